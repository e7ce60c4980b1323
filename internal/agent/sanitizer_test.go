package agent

import (
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize_MissingArgsAndID(t *testing.T) {
	req, ok := Sanitize(map[string]any{"name": "find_properties_tool", "args": nil, "id": nil})
	require.True(t, ok)
	assert.Equal(t, "find_properties_tool", req.Name)
	assert.Equal(t, map[string]any{}, req.Arguments)
	assert.True(t, strings.HasPrefix(req.ID, "call_"), req.ID)
	assert.Len(t, req.ID, len("call_")+8)
}

func TestSanitize_Totality(t *testing.T) {
	cases := []struct {
		name     string
		raw      any
		wantOK   bool
		wantName string
		wantArgs map[string]any
	}{
		{"nil", nil, false, "", nil},
		{"string", "find_properties_tool", false, "", nil},
		{"slice", []any{"a"}, false, "", nil},
		{"number", 42, false, "", nil},
		{"nil pointer", (*schema.ToolCall)(nil), false, "", nil},
		{"missing name", map[string]any{"args": map[string]any{"a": 1}}, false, "", nil},
		{"blank name", map[string]any{"name": "  "}, false, "", nil},
		{"non-map args", map[string]any{"name": "t", "args": []any{1, 2}}, true, "t", map[string]any{}},
		{"scalar args", map[string]any{"name": "t", "arguments": 7}, true, "t", map[string]any{}},
		{"json string args", map[string]any{"name": "t", "arguments": `{"location":"Maadi"}`}, true, "t", map[string]any{"location": "Maadi"}},
		{"bad json args", map[string]any{"name": "t", "arguments": `{"location":`}, true, "t", map[string]any{}},
		{"openai shape", map[string]any{"id": "x", "function": map[string]any{"name": "t", "arguments": `{"a":"b"}`}}, true, "t", map[string]any{"a": "b"}},
		{"tool call null args", schema.ToolCall{Function: schema.FunctionCall{Name: "t", Arguments: "null"}}, true, "t", map[string]any{}},
		{"tool call array args", &schema.ToolCall{ID: "c", Function: schema.FunctionCall{Name: "t", Arguments: "[1]"}}, true, "t", map[string]any{}},
		{"tool call empty name", schema.ToolCall{ID: "c", Function: schema.FunctionCall{Arguments: "{}"}}, false, "", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var (
				req ToolCallRequest
				ok  bool
			)
			require.NotPanics(t, func() { req, ok = Sanitize(tc.raw) })
			require.Equal(t, tc.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tc.wantName, req.Name)
			assert.Equal(t, tc.wantArgs, req.Arguments)
			assert.NotEmpty(t, req.ID)
		})
	}
}

func TestSanitize_KeepsGivenID(t *testing.T) {
	req, ok := Sanitize(call("call_abc", "t", `{"x":1}`))
	require.True(t, ok)
	assert.Equal(t, "call_abc", req.ID)
	assert.Equal(t, float64(1), req.Arguments["x"])
}

func TestSanitizeToolCalls_DropsAndDeduplicates(t *testing.T) {
	seen := map[string]bool{"call_1": true}
	out := sanitizeToolCalls([]schema.ToolCall{
		call("call_1", "a", "{}"),
		call("", "", "{}"),
		call("", "b", "null"),
		call("call_2", "c", `{"k":"v"}`),
		call("call_2", "d", "{}"),
	}, seen)

	require.Len(t, out, 4)
	ids := map[string]bool{}
	for _, tc := range out {
		require.NotEmpty(t, tc.ID)
		require.False(t, ids[tc.ID], "duplicate id %s", tc.ID)
		ids[tc.ID] = true
	}
	assert.NotEqual(t, "call_1", out[0].ID, "id already used this turn must be re-minted")
	assert.Equal(t, "{}", out[1].Function.Arguments)
	assert.Equal(t, "call_2", out[2].ID)
	assert.JSONEq(t, `{"k":"v"}`, out[2].Function.Arguments)
	assert.NotEqual(t, "call_2", out[3].ID)
}
