package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "plain object",
			content: `{"intent": "CREATE"}`,
			want:    `{"intent": "CREATE"}`,
		},
		{
			name:    "fenced block",
			content: "Here you go:\n```json\n{\"intent\": \"UPDATE\"}\n```\nThanks",
			want:    `{"intent": "UPDATE"}`,
		},
		{
			name:    "prose around object",
			content: `Sure! {"intent": "ESCALATE"} Hope that helps.`,
			want:    `{"intent": "ESCALATE"}`,
		},
		{
			name:    "trailing comma",
			content: `{"intent": "CREATE", "reasoning": "x",}`,
			want:    `{"intent": "CREATE", "reasoning": "x"}`,
		},
		{
			name:    "line comment outside string",
			content: "{\n\"url\": \"http://example.com\" // the url\n}",
			want:    "{\n\"url\": \"http://example.com\"\n}",
		},
		{
			name:    "block comment",
			content: `{"intent": /* chosen */ "CREATE"}`,
			want:    `{"intent":  "CREATE"}`,
		},
		{
			name:    "brace in prose before object",
			content: "I weighed {create} first.\n{\"intent\": \"UPDATE\"}",
			want:    "{create}",
		},
		{
			name:    "no object",
			content: "I cannot help with that.",
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.content))
		})
	}
}

func TestJSONCandidates(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name:    "prose braces then object",
			content: "I weighed {create} against update.\n{\"intent\":\"update\"}",
			want:    []string{"{create}", `{"intent":"update"}`},
		},
		{
			name:    "object then prose braces",
			content: "{\"intent\":\"create\"}\nNote: fields use {name} syntax.",
			want:    []string{`{"intent":"create"}`, "{name}"},
		},
		{
			name:    "braces and quotes inside strings",
			content: `{"title": "a } b \" { c", "n": {"x": 1}} trailing`,
			want:    []string{`{"title": "a } b \" { c", "n": {"x": 1}}`},
		},
		{
			name:    "apostrophe in prose",
			content: `Here's the answer: {"intent": "CREATE"}`,
			want:    []string{`{"intent": "CREATE"}`},
		},
		{
			name:    "fence first and deduplicated",
			content: "{\"a\": 1}\n```json\n{\"intent\": \"ESCALATE\"}\n```",
			want:    []string{`{"intent": "ESCALATE"}`, `{"a": 1}`},
		},
		{
			name:    "unterminated object kept for repair",
			content: `Result: {"intent": "CREATE", "reasoning": "cut off`,
			want:    []string{`{"intent": "CREATE", "reasoning": "cut off`},
		},
		{
			name:    "nothing",
			content: "no braces here",
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, JSONCandidates(tt.content))
		})
	}
}

func TestRepair(t *testing.T) {
	repaired, err := Repair(`{'intent': 'CREATE', reasoning: "unquoted key"`)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(repaired), &out))
	assert.Equal(t, "CREATE", out["intent"])
	assert.Equal(t, "unquoted key", out["reasoning"])
}
