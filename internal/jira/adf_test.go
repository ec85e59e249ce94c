package jira_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Afrawles/activityreport/internal/jira"
)

func TestPlainText(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "adf paragraphs",
			body: `{"type":"doc","version":1,"content":[
				{"type":"paragraph","content":[{"type":"text","text":"Retested on "},{"type":"text","text":"staging","marks":[{"type":"strong"}]}]},
				{"type":"paragraph","content":[{"type":"text","text":"Looks fixed."}]}
			]}`,
			want: "Retested on staging Looks fixed. ",
		},
		{
			name: "nested list",
			body: `{"type":"doc","content":[{"type":"bulletList","content":[
				{"type":"listItem","content":[{"type":"paragraph","content":[{"type":"text","text":"one"}]}]},
				{"type":"listItem","content":[{"type":"paragraph","content":[{"type":"text","text":"two"}]}]}
			]}]}`,
			want: "one two ",
		},
		{
			name: "server string body",
			body: `"  plain *wiki* text "`,
			want: "  plain *wiki* text ",
		},
		{
			name: "leading whitespace kept",
			body: `{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"  indented"}]}]}`,
			want: "  indented ",
		},
		{name: "empty", body: ``, want: ""},
		{name: "null", body: `null`, want: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, jira.PlainText(json.RawMessage(tc.body)))
		})
	}
}
