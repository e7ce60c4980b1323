package tools

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wwwzy/EstateAgent/internal/agent"
	"github.com/wwwzy/EstateAgent/internal/sandbox"
)

const plotID = "0b9c6f1e-3f7a-4c1e-9d55-2c7a5e0f4b11"

func TestPythonQuery_Patch(t *testing.T) {
	runner := &fakeRunner{res: &sandbox.Result{
		Stdout: "rows 4\n",
		Outputs: []sandbox.Output{
			{Name: plotID, Data: []byte(`{"title":"Prices","figure":{"data":[]}}`)},
			{Name: "not-a-uuid", Data: []byte(`[1,2]`)},
		},
	}}
	tl := &PythonQueryTool{store: seededStore(t), runner: runner}

	patch, err := tl.InvokePatch(context.Background(), `{"code":"print('rows', len(load_csv('projects.csv')))"}`, "call_7")
	require.NoError(t, err)

	require.Len(t, patch.Messages, 1)
	msg := patch.Messages[0]
	assert.Equal(t, schema.Tool, msg.Role)
	assert.Equal(t, "call_7", msg.ToolCallID)
	assert.Equal(t, pythonToolName, msg.ToolName)
	assert.Contains(t, msg.Content, "Execution succeeded.")
	assert.Contains(t, msg.Content, "rows 4")
	assert.Contains(t, msg.Content, "Saved 2 plot(s): "+plotID)

	require.Len(t, patch.SavedArtifacts, 2)
	first := patch.SavedArtifacts[0]
	assert.Equal(t, plotID, first.ID)
	assert.Equal(t, "plot", first.Kind)
	assert.Equal(t, "Prices", first.Title)
	assert.JSONEq(t, `{"data":[]}`, string(first.Data))
	assert.Equal(t, "call_7", first.ToolCallID)
	second := patch.SavedArtifacts[1]
	assert.NotEqual(t, "not-a-uuid", second.ID)
	assert.JSONEq(t, `[1,2]`, string(second.Data))

	require.Len(t, runner.req.Files, 2)
	assert.Equal(t, "projects.csv", runner.req.Files[0].Name)
	rows, err := csv.NewReader(bytes.NewReader(runner.req.Files[0].Data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, "name", rows[0][0])
	assert.Equal(t, "Mountain View iCity", rows[1][0])
	assert.Equal(t, "", rows[2][7], "Hyde Park has no coordinates")
	units, err := csv.NewReader(bytes.NewReader(runner.req.Files[1].Data)).ReadAll()
	require.NoError(t, err)
	assert.Len(t, units, 4)
}

func TestPythonQuery_FailedRun(t *testing.T) {
	runner := &fakeRunner{res: &sandbox.Result{ExitCode: 1, Stderr: "NameError: x"}}
	tl := &PythonQueryTool{store: seededStore(t), runner: runner}

	patch, err := tl.InvokePatch(context.Background(), `{"code":"x"}`, "c1")
	require.NoError(t, err)
	assert.Empty(t, patch.SavedArtifacts)
	assert.Contains(t, patch.Messages[0].Content, "exit code 1")
	assert.Contains(t, patch.Messages[0].Content, "NameError: x")

	timeout := &PythonQueryTool{store: seededStore(t), runner: &fakeRunner{res: &sandbox.Result{TimedOut: true, ExitCode: -1}}}
	patch, err = timeout.InvokePatch(context.Background(), `{"code":"while True: pass"}`, "c2")
	require.NoError(t, err)
	assert.Contains(t, patch.Messages[0].Content, "timed out")

	broken := &PythonQueryTool{store: seededStore(t), runner: &fakeRunner{err: errors.New("docker unavailable")}}
	_, err = broken.InvokePatch(context.Background(), `{"code":"print(1)"}`, "c3")
	require.Error(t, err)

	_, err = broken.InvokePatch(context.Background(), `{"code":"   "}`, "c4")
	require.Error(t, err)
}

func TestPythonQuery_ThroughRegistry(t *testing.T) {
	runner := &fakeRunner{res: &sandbox.Result{Stdout: "ok"}}
	reg, err := agent.NewRegistry(context.Background(), []tool.BaseTool{
		&PythonQueryTool{store: seededStore(t), runner: runner},
	})
	require.NoError(t, err)
	h, ok := reg.Resolve(pythonToolName)
	require.True(t, ok)

	res := h.Invoke(context.Background(), map[string]any{"code": "print('ok')"}, "call_1")
	require.Equal(t, agent.ResultPatch, res.Kind)
	assert.Equal(t, "call_1", res.Patch.Messages[0].ToolCallID)

	runner.err = errors.New("boom")
	res = h.Invoke(context.Background(), map[string]any{"code": "print('ok')"}, "call_2")
	assert.Equal(t, agent.ResultText, res.Kind)
	assert.True(t, res.IsError)
}
