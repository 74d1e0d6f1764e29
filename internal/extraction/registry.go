package extraction

import (
	"regexp"
	"slices"
	"sync"

	"github.com/starford/tenantgraph/internal/apperr"
	"github.com/starford/tenantgraph/internal/models"
)

// identRe is the allow-list for anything spliced into Cypher text as a label
// or relationship type.
var identRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s may be used as a label or relationship type.
func ValidIdentifier(s string) bool {
	return identRe.MatchString(s)
}

// Registry is the server-side vocabulary of node labels and relationship
// types. It is closed to the oracle: unknown entries are rejected unless the
// operator configured it as extensible, in which case new well-formed entries
// are admitted and remembered for the life of the process.
type Registry struct {
	mu        sync.RWMutex
	nodeTypes map[string]struct{}
	relTypes  map[string]struct{}
	allowNew  bool
}

// NewRegistry builds a registry from the configured vocabulary.
func NewRegistry(nodeTypes, relTypes []string, allowNew bool) (*Registry, error) {
	r := &Registry{
		nodeTypes: make(map[string]struct{}, len(nodeTypes)),
		relTypes:  make(map[string]struct{}, len(relTypes)),
		allowNew:  allowNew,
	}
	for _, t := range nodeTypes {
		if err := checkFormat(t, models.TenantLabel); err != nil {
			return nil, err
		}
		r.nodeTypes[t] = struct{}{}
	}
	for _, t := range relTypes {
		if err := checkFormat(t, models.OwnershipType); err != nil {
			return nil, err
		}
		r.relTypes[t] = struct{}{}
	}
	return r, nil
}

// AllowNew reports whether unknown entries are admitted.
func (r *Registry) AllowNew() bool {
	return r.allowNew
}

// NodeTypes returns the registered labels, sorted.
func (r *Registry) NodeTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.nodeTypes)
}

// RelationshipTypes returns the registered relationship types, sorted.
func (r *Registry) RelationshipTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.relTypes)
}

// HasNodeType reports whether label is registered.
func (r *Registry) HasNodeType(label string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.nodeTypes[label]
	return ok
}

// HasRelationshipType reports whether typ is registered.
func (r *Registry) HasRelationshipType(typ string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.relTypes[typ]
	return ok
}

// checkNodeType validates label against the allow-list and the vocabulary.
// It reports whether the label is new (only possible when allowNew is set).
func (r *Registry) checkNodeType(label string) (bool, error) {
	if err := checkFormat(label, models.TenantLabel); err != nil {
		return false, err
	}
	if r.HasNodeType(label) {
		return false, nil
	}
	if !r.allowNew {
		return false, apperr.New(apperr.KindUnsafeLabel, "extraction.Validate", "node label is not registered").WithFragment(label)
	}
	return true, nil
}

func (r *Registry) checkRelationshipType(typ string) (bool, error) {
	if err := checkFormat(typ, models.OwnershipType); err != nil {
		return false, err
	}
	if r.HasRelationshipType(typ) {
		return false, nil
	}
	if !r.allowNew {
		return false, apperr.New(apperr.KindUnsafeLabel, "extraction.Validate", "relationship type is not registered").WithFragment(typ)
	}
	return true, nil
}

func (r *Registry) register(nodeTypes, relTypes []string) {
	if len(nodeTypes) == 0 && len(relTypes) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range nodeTypes {
		r.nodeTypes[t] = struct{}{}
	}
	for _, t := range relTypes {
		r.relTypes[t] = struct{}{}
	}
}

func checkFormat(s, reserved string) error {
	if !ValidIdentifier(s) {
		return apperr.New(apperr.KindUnsafeLabel, "extraction.Validate",
			"must contain only letters, digits and underscore, starting with a letter").WithFragment(s)
	}
	if s == reserved {
		return apperr.New(apperr.KindUnsafeLabel, "extraction.Validate", "reserved vocabulary").WithFragment(s)
	}
	return nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
