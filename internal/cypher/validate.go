package cypher

import (
	"errors"
	"fmt"
	"strings"

	"github.com/starford/tenantgraph/internal/apperr"
)

const opValidate = "cypher.Validate"

// Reason names why a statement was rejected.
type Reason string

const (
	ReasonSyntax            Reason = "syntax"
	ReasonMutatingKeyword   Reason = "mutating_keyword"
	ReasonMissingMatch      Reason = "missing_match"
	ReasonMissingReturn     Reason = "missing_return"
	ReasonMissingPredicate  Reason = "missing_tenant_predicate"
	ReasonUnanchoredPattern Reason = "unanchored_pattern"
	ReasonMultiple          Reason = "multiple_statements"
	ReasonUnion             Reason = "union"
	ReasonSubquery          Reason = "subquery"
	ReasonComprehension     Reason = "pattern_comprehension"
	ReasonFunction          Reason = "namespaced_function"
)

// Rejection is the cause attached to an UnsafeQuery error.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return string(r.Reason)
	}
	return string(r.Reason) + ": " + r.Detail
}

// ReasonOf extracts the rejection reason from err, or "" when err is not a
// validator rejection.
func ReasonOf(err error) Reason {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Reason
	}
	return ""
}

// mutating lists keywords that can write, reach outside the current database
// or invoke procedures. Matching is whole-token and case-insensitive.
var mutating = []string{
	"CREATE", "DELETE", "REMOVE", "SET", "MERGE", "DETACH",
	"DROP", "FOREACH", "LOAD", "CALL", "USE",
}

// subqueryKeywords open an expression subquery when followed by "{".
var subqueryKeywords = []string{"EXISTS", "COUNT", "COLLECT"}

// allowedFunctions are the namespaced functions a statement may call. Any
// other dotted call (apoc.*, db.*, plugins) is rejected.
var allowedFunctions = map[string]struct{}{
	"date.truncate":          {},
	"datetime.truncate":      {},
	"localdatetime.truncate": {},
	"localtime.truncate":     {},
	"time.truncate":          {},
	"duration.between":       {},
	"duration.indays":        {},
	"duration.inmonths":      {},
	"duration.inseconds":     {},
	"point.distance":         {},
	"point.withinbbox":       {},
}

// clauses that terminate a MATCH or WITH body at nesting depth zero.
var clauseKeywords = []string{
	"MATCH", "OPTIONAL", "WHERE", "WITH", "RETURN", "ORDER", "SKIP", "LIMIT", "UNWIND",
}

func reject(reason Reason, fragment, format string, args ...any) error {
	return &apperr.Error{
		Kind:     apperr.KindUnsafeQuery,
		Op:       opValidate,
		Fragment: fragment,
		Err:      &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)},
	}
}

// Validate statically checks that query is a read-only statement confined to
// the calling tenant. It never rewrites the statement.
//
// Every pattern in every MATCH clause must either carry the ownership
// predicate itself or share a variable with a pattern that does. A statement
// that cannot be proven safe is rejected.
func Validate(query string) error {
	toks, err := tokenize(query)
	if err != nil {
		return reject(ReasonSyntax, "", "%v", err)
	}
	if len(toks) > 0 && toks[len(toks)-1].isPunct(";") {
		toks = toks[:len(toks)-1]
	}

	var hasMatch, hasReturn bool
	depth := 0
	for i, t := range toks {
		switch {
		case t.isPunct("(") || t.isPunct("[") || t.isPunct("{"):
			depth++
		case t.isPunct(")") || t.isPunct("]") || t.isPunct("}"):
			depth--
		case t.isPunct(";"):
			return reject(ReasonMultiple, ";", "more than one statement")
		}
		if err := checkNesting(toks, i); err != nil {
			return err
		}
		if t.kind != tokIdent || t.quoted || propertyKey(toks, i) {
			continue
		}
		if depth > 0 && t.isKeyword("MATCH") {
			return reject(ReasonSubquery, t.text, "MATCH is only allowed as a top-level clause")
		}
		for _, kw := range mutating {
			if t.isKeyword(kw) {
				return reject(ReasonMutatingKeyword, t.text, "keyword %s is not allowed", strings.ToUpper(t.text))
			}
		}
		if t.isKeyword("UNION") {
			return reject(ReasonUnion, t.text, "UNION is not allowed")
		}
		if depth == 0 && t.isKeyword("MATCH") {
			hasMatch = true
		}
		if depth == 0 && t.isKeyword("RETURN") {
			hasReturn = true
		}
	}
	if depth != 0 {
		return reject(ReasonSyntax, "", "unbalanced brackets")
	}
	if !hasMatch {
		return reject(ReasonMissingMatch, "", "statement has no MATCH clause")
	}
	if !hasReturn {
		return reject(ReasonMissingReturn, "", "statement has no RETURN clause")
	}
	if !containsPredicate(toks) {
		return reject(ReasonMissingPredicate, "", "statement must contain %s", OwnershipPattern(""))
	}
	return checkAnchoring(toks)
}

// checkNesting rejects the constructs that would let a statement read graph
// data outside its top-level clauses: expression subqueries, pattern
// comprehensions and namespaced function calls.
func checkNesting(toks []token, i int) error {
	t := toks[i]
	switch {
	case t.isPunct("{") && i > 0 && !propertyKey(toks, i-1):
		for _, kw := range subqueryKeywords {
			if toks[i-1].isKeyword(kw) {
				return reject(ReasonSubquery, toks[i-1].text, "%s subqueries are not allowed", strings.ToUpper(kw))
			}
		}
	case t.isPunct("["):
		if end, ok := closing(toks, i); ok && hasTopLevelPipe(toks[i+1:end]) && startsPattern(toks[i+1:end]) {
			return reject(ReasonComprehension, render(toks[i:end+1]), "pattern comprehensions are not allowed")
		}
	case t.isPunct("("):
		if name, ok := namespacedCall(toks, i); ok {
			if _, allowed := allowedFunctions[strings.ToLower(name)]; !allowed {
				return reject(ReasonFunction, name, "function %s is not allowed", name)
			}
		}
	}
	return nil
}

// closing returns the index of the bracket closing the one at toks[open].
func closing(toks []token, open int) (int, bool) {
	depth := 0
	for j := open; j < len(toks); j++ {
		switch {
		case toks[j].isPunct("(") || toks[j].isPunct("[") || toks[j].isPunct("{"):
			depth++
		case toks[j].isPunct(")") || toks[j].isPunct("]") || toks[j].isPunct("}"):
			depth--
			if depth == 0 {
				return j, true
			}
		}
	}
	return 0, false
}

func hasTopLevelPipe(toks []token) bool {
	depth := 0
	for _, t := range toks {
		switch {
		case t.isPunct("(") || t.isPunct("[") || t.isPunct("{"):
			depth++
		case t.isPunct(")") || t.isPunct("]") || t.isPunct("}"):
			depth--
		case t.isPunct("|") && depth == 0:
			return true
		}
	}
	return false
}

// startsPattern reports whether a bracket body opens with a node pattern,
// optionally bound to a path variable: (a)-->(b) or p = (a)-->(b).
func startsPattern(body []token) bool {
	if len(body) > 0 && body[0].isPunct("(") {
		return true
	}
	return len(body) > 2 && body[0].kind == tokIdent && body[1].isPunct("=") && body[2].isPunct("(")
}

// namespacedCall returns the dotted function name when toks[open] opens the
// argument list of a call such as apoc.text.join(.
func namespacedCall(toks []token, open int) (string, bool) {
	j := open - 1
	if j < 1 || toks[j].kind != tokIdent || !toks[j-1].isPunct(".") {
		return "", false
	}
	parts := []string{toks[j].text}
	for j >= 2 && toks[j-1].isPunct(".") && toks[j-2].kind == tokIdent {
		j -= 2
		parts = append([]string{toks[j].text}, parts...)
	}
	return strings.Join(parts, "."), true
}

// propertyKey reports whether toks[i] is a property name (n.set) rather than a
// keyword.
func propertyKey(toks []token, i int) bool {
	return i > 0 && toks[i-1].isPunct(".")
}

type clause struct {
	keyword string
	body    []token
}

// splitClauses cuts the top-level token stream at clause keywords.
func splitClauses(toks []token) []clause {
	var out []clause
	depth := 0
	cur := -1
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.isPunct("(") || t.isPunct("[") || t.isPunct("{") {
			depth++
		} else if t.isPunct(")") || t.isPunct("]") || t.isPunct("}") {
			depth--
		}
		if depth == 0 && isClauseStart(toks, i) {
			kw := strings.ToUpper(t.text)
			if kw == "OPTIONAL" && i+1 < len(toks) && toks[i+1].isKeyword("MATCH") {
				i++
				kw = "MATCH"
			}
			out = append(out, clause{keyword: kw})
			cur = len(out) - 1
			continue
		}
		if cur >= 0 {
			out[cur].body = append(out[cur].body, t)
		}
	}
	return out
}

func isClauseStart(toks []token, i int) bool {
	t := toks[i]
	if t.kind != tokIdent || t.quoted || propertyKey(toks, i) {
		return false
	}
	for _, kw := range clauseKeywords {
		if !t.isKeyword(kw) {
			continue
		}
		// STARTS WITH / ENDS WITH are string operators.
		if kw == "WITH" && i > 0 && (toks[i-1].isKeyword("STARTS") || toks[i-1].isKeyword("ENDS")) {
			return false
		}
		return true
	}
	return false
}

// splitTopLevel splits tokens at commas outside any brackets.
func splitTopLevel(toks []token) [][]token {
	var out [][]token
	depth, start := 0, 0
	for i, t := range toks {
		switch {
		case t.isPunct("(") || t.isPunct("[") || t.isPunct("{"):
			depth++
		case t.isPunct(")") || t.isPunct("]") || t.isPunct("}"):
			depth--
		case t.isPunct(",") && depth == 0:
			out = append(out, toks[start:i])
			start = i + 1
		}
	}
	if start < len(toks) {
		out = append(out, toks[start:])
	}
	return out
}

// patternVariables returns the node, relationship and path variables a
// pattern binds. Identifiers inside property maps and function arguments are
// not bindings.
func patternVariables(pattern []token) []string {
	var vars []string
	if len(pattern) > 1 && pattern[0].kind == tokIdent && pattern[1].isPunct("=") {
		vars = append(vars, pattern[0].text)
	}
	braces := 0
	for i, t := range pattern {
		switch {
		case t.isPunct("{"):
			braces++
		case t.isPunct("}"):
			braces--
		case braces == 0 && (t.isPunct("(") || t.isPunct("[")):
			if i > 0 && pattern[i-1].kind == tokIdent {
				continue // function call such as shortestPath(
			}
			if i+1 < len(pattern) && pattern[i+1].kind == tokIdent {
				vars = append(vars, pattern[i+1].text)
			}
		}
	}
	return vars
}

func checkAnchoring(toks []token) error {
	anchored := make(map[string]struct{})
	for _, c := range splitClauses(toks) {
		switch c.keyword {
		case "MATCH":
			if err := anchorMatch(c.body, anchored); err != nil {
				return err
			}
		case "WITH":
			if err := anchorExpressions(c.body, anchored); err != nil {
				return err
			}
			anchored = carryThroughWith(c.body, anchored)
		default:
			if err := anchorExpressions(c.body, anchored); err != nil {
				return err
			}
		}
	}
	return nil
}

// anchorMatch resolves the patterns of one MATCH clause. A pattern sharing a
// variable with an anchored pattern is anchored too; patterns are revisited
// until no more can be anchored.
func anchorMatch(body []token, anchored map[string]struct{}) error {
	patterns := splitTopLevel(body)
	pending := make([][]string, 0, len(patterns))
	fragments := make([]string, 0, len(patterns))
	for _, p := range patterns {
		vars := patternVariables(p)
		if containsPredicate(p) {
			for _, v := range vars {
				anchored[v] = struct{}{}
			}
			continue
		}
		pending = append(pending, vars)
		fragments = append(fragments, render(p))
	}

	for progress := true; progress && len(pending) > 0; {
		progress = false
		for i := 0; i < len(pending); i++ {
			if !sharesVariable(pending[i], anchored) {
				continue
			}
			for _, v := range pending[i] {
				anchored[v] = struct{}{}
			}
			pending = append(pending[:i], pending[i+1:]...)
			fragments = append(fragments[:i], fragments[i+1:]...)
			i--
			progress = true
		}
	}
	if len(pending) > 0 {
		return reject(ReasonUnanchoredPattern, fragments[0], "pattern is not connected to the tenant predicate")
	}
	return nil
}

// anchorExpressions checks relationship patterns used as expressions, such
// as WHERE pattern predicates. Each must start from, end at or pass through
// an anchored node variable.
func anchorExpressions(body []token, anchored map[string]struct{}) error {
	for i := 0; i < len(body); i++ {
		if !body[i].isPunct("(") {
			continue
		}
		end, ok := closing(body, i)
		if !ok {
			return nil
		}
		if _, ok := relationshipAfter(body, end+1); !ok {
			continue
		}
		vars := []string{}
		if v, ok := nodeVariable(body, i); ok {
			vars = append(vars, v)
		}
		last := end
		for {
			next, ok := relationshipAfter(body, last+1)
			if !ok {
				break
			}
			nodeEnd, ok := closing(body, next)
			if !ok {
				break
			}
			if v, ok := nodeVariable(body, next); ok {
				vars = append(vars, v)
			}
			last = nodeEnd
		}
		if !sharesVariable(vars, anchored) {
			return reject(ReasonUnanchoredPattern, render(body[i:last+1]), "pattern is not connected to the tenant predicate")
		}
		i = last
	}
	return nil
}

// relationshipAfter matches -[...]->, <-[...]-, -->, <--, -- starting at
// toks[k] and returns the index of the node pattern that follows.
func relationshipAfter(toks []token, k int) (int, bool) {
	if k >= len(toks) || !(toks[k].isPunct("-") || toks[k].isPunct("<-")) {
		return 0, false
	}
	k++
	if k < len(toks) && toks[k].isPunct("[") {
		end, ok := closing(toks, k)
		if !ok {
			return 0, false
		}
		k = end + 1
	}
	if k >= len(toks) || !(toks[k].isPunct("-") || toks[k].isPunct("->")) {
		return 0, false
	}
	k++
	if k >= len(toks) || !toks[k].isPunct("(") {
		return 0, false
	}
	return k, true
}

func nodeVariable(toks []token, open int) (string, bool) {
	if open+1 < len(toks) && toks[open+1].kind == tokIdent {
		return toks[open+1].text, true
	}
	return "", false
}

func sharesVariable(vars []string, anchored map[string]struct{}) bool {
	for _, v := range vars {
		if _, ok := anchored[v]; ok {
			return true
		}
	}
	return false
}

// carryThroughWith returns the anchored variables still in scope after a WITH
// projection.
func carryThroughWith(body []token, anchored map[string]struct{}) map[string]struct{} {
	if len(body) > 0 && body[0].isKeyword("DISTINCT") {
		body = body[1:]
	}
	next := make(map[string]struct{})
	for _, item := range splitTopLevel(body) {
		switch {
		case len(item) == 1 && item[0].isPunct("*"):
			for v := range anchored {
				next[v] = struct{}{}
			}
		case len(item) == 1 && item[0].kind == tokIdent:
			if _, ok := anchored[item[0].text]; ok {
				next[item[0].text] = struct{}{}
			}
		case len(item) == 3 && item[0].kind == tokIdent && item[1].isKeyword("AS") && item[2].kind == tokIdent:
			if _, ok := anchored[item[0].text]; ok {
				next[item[2].text] = struct{}{}
			}
		}
	}
	return next
}

func render(toks []token) string {
	parts := make([]string, len(toks))
	for i, t := range toks {
		switch {
		case t.kind == tokParam:
			parts[i] = "$" + t.text
		case t.quoted:
			parts[i] = "`" + t.text + "`"
		default:
			parts[i] = t.text
		}
	}
	return strings.Join(parts, " ")
}
