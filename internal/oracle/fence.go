package oracle

import "strings"

// StripFences removes markdown code fences and surrounding prose from oracle
// output. When the text contains a fenced block, the first block's body is
// returned without its language tag; otherwise the trimmed text is returned.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "```")
	if start < 0 {
		return text
	}
	body := text[start+3:]
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}

	// Drop a language tag such as "cypher" or "json" on the opening line.
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		tag := strings.TrimSpace(body[:nl])
		if tag == "" || isLanguageTag(tag) {
			body = body[nl+1:]
		}
	} else if isLanguageTag(strings.TrimSpace(body)) {
		return ""
	}
	return strings.TrimSpace(body)
}

func isLanguageTag(s string) bool {
	switch strings.ToLower(s) {
	case "cypher", "json", "sql", "neo4j", "text":
		return true
	}
	return false
}
