// Package models defines the domain types for tenantgraph.
package models

import (
	"time"

	"github.com/starford/tenantgraph/internal/apperr"
)

// Reserved graph vocabulary used for tenant containment.
const (
	TenantLabel   = "Tenant"
	OwnershipType = "BELONGS_TO"
)

// Tenant is the root of isolation.
type Tenant struct {
	ID          string    `json:"tenantId"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
}

// NodeSpec is one entity produced by the extraction oracle.
type NodeSpec struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// Placeholder returns the batch-local identifier "{type}-{name}".
func (n NodeSpec) Placeholder() string {
	return n.Type + "-" + n.Name
}

// Key returns the persisted key of the node within its tenant.
func (n NodeSpec) Key() NodeKey {
	return NodeKey{Label: n.Type, Name: n.Name}
}

// RelationshipSpec is one relationship produced by the extraction oracle.
// FromID and ToID are placeholders scoped to the delta they arrived in.
type RelationshipSpec struct {
	FromID string `json:"from_id"`
	ToID   string `json:"to_id"`
	Type   string `json:"type"`
}

// GraphDelta is the validated output of one extraction call.
type GraphDelta struct {
	Nodes         []NodeSpec         `json:"nodes"`
	Relationships []RelationshipSpec `json:"relationships"`
}

// NodeKey identifies a persisted node inside a tenant: (label, name).
type NodeKey struct {
	Label string `json:"label"`
	Name  string `json:"name"`
}

// ResolvedEdge is a relationship whose endpoints resolved to node keys.
type ResolvedEdge struct {
	From NodeKey `json:"from"`
	To   NodeKey `json:"to"`
	Type string  `json:"type"`
}

// SkippedEdge records a relationship that was not merged and why.
type SkippedEdge struct {
	Relationship RelationshipSpec `json:"relationship"`
	Kind         apperr.Kind      `json:"kind"`
	Reason       string           `json:"reason"`
}

// ResolvedDelta is a GraphDelta after identifier resolution.
type ResolvedDelta struct {
	Nodes   []NodeSpec     `json:"nodes"`
	Edges   []ResolvedEdge `json:"edges"`
	Skipped []SkippedEdge  `json:"skipped"`
}

// UpsertReport summarizes the effect of merging one delta.
type UpsertReport struct {
	NodesCreated int           `json:"nodesCreated"`
	NodesMatched int           `json:"nodesMatched"`
	EdgesCreated int           `json:"edgesCreated"`
	EdgesMatched int           `json:"edgesMatched"`
	EdgesSkipped int           `json:"edgesSkipped"`
	Skipped      []SkippedEdge `json:"skipped"`
}

// Schema is the read-only vocabulary currently used by one tenant.
type Schema struct {
	NodeTypes         []string `json:"nodeTypes"`
	RelationshipTypes []string `json:"relationshipTypes"`
}

// Row is one result record keyed by column name.
type Row = map[string]any

// ResultSet holds query rows in store return order.
type ResultSet struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// Summary is the structured explanation returned by the summarizer.
type Summary struct {
	Summary     string   `json:"summary"`
	Insights    []string `json:"insights"`
	Limitations string   `json:"limitations,omitempty"`
}
