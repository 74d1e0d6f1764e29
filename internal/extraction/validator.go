// Package extraction validates oracle extraction payloads and resolves their
// batch-local identifiers.
package extraction

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/starford/tenantgraph/internal/apperr"
	"github.com/starford/tenantgraph/internal/models"
)

const opValidate = "extraction.Validate"

// Validator checks the structure of a raw extraction payload and the
// vocabulary it uses. A payload is either accepted whole or rejected.
type Validator struct {
	registry *Registry
}

// NewValidator creates a Validator. A nil registry checks label format only.
func NewValidator(registry *Registry) *Validator {
	return &Validator{registry: registry}
}

// Validate parses raw JSON into a GraphDelta.
//
// Structural problems yield InvalidExtraction with the JSON path of the
// offending element; labels or relationship types outside the allow-list yield
// UnsafeLabel with the offending string.
func (v *Validator) Validate(raw []byte) (models.GraphDelta, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return models.GraphDelta{}, invalid("$", "payload is not a JSON object: %v", err)
	}

	rawNodes, err := array(top, "nodes")
	if err != nil {
		return models.GraphDelta{}, err
	}
	rawRels, err := array(top, "relationships")
	if err != nil {
		return models.GraphDelta{}, err
	}

	delta := models.GraphDelta{
		Nodes:         make([]models.NodeSpec, 0, len(rawNodes)),
		Relationships: make([]models.RelationshipSpec, 0, len(rawRels)),
	}

	seenNodes := make(map[models.NodeKey]struct{}, len(rawNodes))
	for i, rn := range rawNodes {
		path := fmt.Sprintf("nodes[%d]", i)
		obj, err := object(rn, path)
		if err != nil {
			return models.GraphDelta{}, err
		}
		typ, err := requiredString(obj, "type", path)
		if err != nil {
			return models.GraphDelta{}, err
		}
		name, err := requiredString(obj, "name", path)
		if err != nil {
			return models.GraphDelta{}, err
		}
		n := models.NodeSpec{Type: typ, Name: name}
		if _, dup := seenNodes[n.Key()]; dup {
			continue
		}
		seenNodes[n.Key()] = struct{}{}
		delta.Nodes = append(delta.Nodes, n)
	}

	for i, rr := range rawRels {
		path := fmt.Sprintf("relationships[%d]", i)
		obj, err := object(rr, path)
		if err != nil {
			return models.GraphDelta{}, err
		}
		from, err := stringField(obj, "from_id", path)
		if err != nil {
			return models.GraphDelta{}, err
		}
		to, err := stringField(obj, "to_id", path)
		if err != nil {
			return models.GraphDelta{}, err
		}
		typ, err := requiredString(obj, "type", path)
		if err != nil {
			return models.GraphDelta{}, err
		}
		delta.Relationships = append(delta.Relationships, models.RelationshipSpec{FromID: from, ToID: to, Type: typ})
	}

	if err := v.checkVocabulary(delta); err != nil {
		return models.GraphDelta{}, err
	}
	return delta, nil
}

// checkVocabulary enforces the label allow-list over the whole delta before
// registering anything new.
func (v *Validator) checkVocabulary(delta models.GraphDelta) error {
	var newNodes, newRels []string
	for _, n := range delta.Nodes {
		if v.registry == nil {
			if err := checkFormat(n.Type, models.TenantLabel); err != nil {
				return err
			}
			continue
		}
		isNew, err := v.registry.checkNodeType(n.Type)
		if err != nil {
			return err
		}
		if isNew {
			newNodes = append(newNodes, n.Type)
		}
	}
	for _, r := range delta.Relationships {
		if v.registry == nil {
			if err := checkFormat(r.Type, models.OwnershipType); err != nil {
				return err
			}
			continue
		}
		isNew, err := v.registry.checkRelationshipType(r.Type)
		if err != nil {
			return err
		}
		if isNew {
			newRels = append(newRels, r.Type)
		}
	}
	if v.registry != nil {
		v.registry.register(newNodes, newRels)
	}
	return nil
}

func invalid(path, format string, args ...any) error {
	return apperr.Newf(apperr.KindInvalidExtraction, opValidate, format, args...).WithFragment(path)
}

func array(top map[string]json.RawMessage, key string) ([]json.RawMessage, error) {
	raw, ok := top[key]
	if !ok {
		return nil, invalid(key, "missing key")
	}
	var out []json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return nil, invalid(key, "must be an array")
	}
	return out, nil
}

func object(raw json.RawMessage, path string) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, invalid(path, "must be an object")
	}
	return obj, nil
}

func stringField(obj map[string]json.RawMessage, key, path string) (string, error) {
	raw, ok := obj[key]
	if !ok {
		return "", invalid(path+"."+key, "missing key")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", invalid(path+"."+key, "must be a string")
	}
	return strings.TrimSpace(s), nil
}

func requiredString(obj map[string]json.RawMessage, key, path string) (string, error) {
	s, err := stringField(obj, key, path)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", invalid(path+"."+key, "must not be empty")
	}
	return s, nil
}
