package extraction

import (
	"fmt"
	"strings"

	"github.com/starford/tenantgraph/internal/apperr"
	"github.com/starford/tenantgraph/internal/models"
)

// ResolutionTable maps batch-local placeholders to persisted node keys.
// It is built from one delta's NodeSpecs and must not outlive that delta.
type ResolutionTable struct {
	byPlaceholder map[string]models.NodeKey
	byName        map[string]models.NodeKey
	ambiguous     map[string]struct{}
}

// NewResolutionTable indexes nodes by "{type}-{name}" and, when unique within
// the batch, by bare name.
func NewResolutionTable(nodes []models.NodeSpec) *ResolutionTable {
	t := &ResolutionTable{
		byPlaceholder: make(map[string]models.NodeKey, len(nodes)),
		byName:        make(map[string]models.NodeKey, len(nodes)),
		ambiguous:     make(map[string]struct{}),
	}
	for _, n := range nodes {
		t.byPlaceholder[n.Placeholder()] = n.Key()
		if prev, ok := t.byName[n.Name]; ok && prev != n.Key() {
			t.ambiguous[n.Name] = struct{}{}
			continue
		}
		t.byName[n.Name] = n.Key()
	}
	for name := range t.ambiguous {
		delete(t.byName, name)
	}
	return t
}

// Lookup resolves a placeholder. Bare names resolve only when exactly one
// node in the batch carries that name.
func (t *ResolutionTable) Lookup(id string) (models.NodeKey, bool) {
	id = strings.TrimSpace(id)
	if k, ok := t.byPlaceholder[id]; ok {
		return k, true
	}
	k, ok := t.byName[id]
	return k, ok
}

// Len returns the number of placeholders in the table.
func (t *ResolutionTable) Len() int {
	return len(t.byPlaceholder)
}

// Resolve rewrites every relationship endpoint through a fresh resolution
// table. Relationships with an unresolved endpoint are moved to Skipped and
// never reach the store.
func Resolve(delta models.GraphDelta) models.ResolvedDelta {
	table := NewResolutionTable(delta.Nodes)

	out := models.ResolvedDelta{
		Nodes:   delta.Nodes,
		Edges:   make([]models.ResolvedEdge, 0, len(delta.Relationships)),
		Skipped: []models.SkippedEdge{},
	}
	seen := make(map[models.ResolvedEdge]struct{}, len(delta.Relationships))

	for _, rel := range delta.Relationships {
		from, okFrom := table.Lookup(rel.FromID)
		to, okTo := table.Lookup(rel.ToID)
		if !okFrom || !okTo {
			out.Skipped = append(out.Skipped, models.SkippedEdge{
				Relationship: rel,
				Kind:         apperr.KindResolutionFailure,
				Reason:       unresolvedReason(rel, okFrom, okTo),
			})
			continue
		}
		edge := models.ResolvedEdge{From: from, To: to, Type: rel.Type}
		if _, dup := seen[edge]; dup {
			continue
		}
		seen[edge] = struct{}{}
		out.Edges = append(out.Edges, edge)
	}
	return out
}

func unresolvedReason(rel models.RelationshipSpec, okFrom, okTo bool) string {
	var missing []string
	if !okFrom {
		missing = append(missing, fmt.Sprintf("from_id %q", rel.FromID))
	}
	if !okTo {
		missing = append(missing, fmt.Sprintf("to_id %q", rel.ToID))
	}
	return "unresolved " + strings.Join(missing, " and ") + " not present in this batch"
}
