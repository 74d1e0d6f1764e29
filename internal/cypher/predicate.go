package cypher

import (
	"fmt"

	"github.com/starford/tenantgraph/internal/models"
)

// TenantParam is the statement parameter carrying the calling tenant id.
// The executor always binds it; a statement never contains the id literally.
const TenantParam = "tenantId"

// OwnershipPattern is the canonical ownership predicate anchoring a node
// variable to the calling tenant.
func OwnershipPattern(variable string) string {
	return fmt.Sprintf("(%s)-[:%s]->(:%s {id: $%s})", variable, models.OwnershipType, models.TenantLabel, TenantParam)
}

type step struct {
	kind     tokenKind
	text     string
	optional bool
}

func punct(p string) step    { return step{kind: tokPunct, text: p} }
func ident(s string) step    { return step{kind: tokIdent, text: s} }
func anyIdent() step         { return step{kind: tokIdent, optional: true} }
func param(name string) step { return step{kind: tokParam, text: name} }

var ownershipRel = []step{punct("["), anyIdent(), punct(":"), ident(models.OwnershipType), punct("]")}

var tenantNode = []step{
	punct("("), anyIdent(), punct(":"), ident(models.TenantLabel),
	punct("{"), ident("id"), punct(":"), param(TenantParam), punct("}"), punct(")"),
}

// -[:BELONGS_TO]->(:Tenant {id: $tenantId})
var forwardPredicate = concat([]step{punct("-")}, ownershipRel, []step{punct("->")}, tenantNode)

// (:Tenant {id: $tenantId})<-[:BELONGS_TO]-
var reversePredicate = concat(tenantNode, []step{punct("<-")}, ownershipRel, []step{punct("-")})

func concat(parts ...[]step) []step {
	var out []step
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// matchSteps reports whether seq matches toks starting at i and returns the
// index just past the match.
func matchSteps(toks []token, i int, seq []step) (int, bool) {
	for _, s := range seq {
		if i >= len(toks) {
			return 0, false
		}
		t := toks[i]
		if s.optional {
			if t.kind == tokIdent {
				i++
			}
			continue
		}
		if t.kind != s.kind || t.text != s.text {
			return 0, false
		}
		i++
	}
	return i, true
}

// predicateAt reports whether an ownership predicate starts at toks[i].
func predicateAt(toks []token, i int) bool {
	if _, ok := matchSteps(toks, i, forwardPredicate); ok {
		return true
	}
	_, ok := matchSteps(toks, i, reversePredicate)
	return ok
}

func containsPredicate(toks []token) bool {
	for i := range toks {
		if predicateAt(toks, i) {
			return true
		}
	}
	return false
}

// HasTenantPredicate reports whether query syntactically contains the
// ownership predicate bound to $tenantId, in either direction. Literals and
// comments are ignored.
func HasTenantPredicate(query string) bool {
	toks, err := tokenize(query)
	if err != nil {
		return false
	}
	return containsPredicate(toks)
}
