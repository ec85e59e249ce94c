package jira

import (
	"encoding/json"
	"strings"
)

// adfNode is the subset of the Atlassian Document Format read when
// flattening comment bodies.
type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text"`
	Content []adfNode `json:"content"`
}

// PlainText converts a comment body to plain text. API v3 returns ADF
// documents, v2 returns the raw wiki string which is kept as is.
// Text nodes are concatenated and each paragraph ends with one space; the
// result is not trimmed.
func PlainText(body json.RawMessage) string {
	if len(body) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(body, &s); err == nil {
		return s
	}

	var doc adfNode
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}
	var b strings.Builder
	flatten(doc, &b)
	return b.String()
}

func flatten(n adfNode, b *strings.Builder) {
	if n.Type == "text" {
		b.WriteString(n.Text)
	}
	for _, child := range n.Content {
		flatten(child, b)
	}
	if n.Type == "paragraph" {
		b.WriteString(" ")
	}
}
