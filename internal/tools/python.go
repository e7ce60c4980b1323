package tools

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/wwwzy/EstateAgent/internal/agent"
	"github.com/wwwzy/EstateAgent/internal/sandbox"
	"github.com/wwwzy/EstateAgent/internal/storage"
)

const pythonToolName = "execute_python_query"

// PythonQueryTool 在沙箱中运行分析代码。projects.csv 与 units.csv 挂载在 /work/data，
// 通过 save_plot 写出的图表会作为 artifact 保存到会话中。
type PythonQueryTool struct {
	store  ProjectStore
	runner sandbox.Runner
}

var _ agent.PatchingTool = (*PythonQueryTool)(nil)

func (t *PythonQueryTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: pythonToolName,
		Desc: `Run Python code for data analysis over the project database. load_csv("projects.csv") and load_csv("units.csv") return the data (a pandas DataFrame when pandas is installed, otherwise a list of dicts). Call save_plot(figure_or_dict, title) to save a Plotly figure for the user. Print the values you want to see. There is no network access.`,
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"code": {
				Desc:     "Python source to execute",
				Type:     schema.String,
				Required: true,
			},
		}),
	}, nil
}

func (t *PythonQueryTool) InvokePatch(ctx context.Context, argumentsInJSON string, callID string) (agent.StatePatch, error) {
	var args struct {
		Code string `json:"code"`
	}
	if err := decodeArgs(argumentsInJSON, &args); err != nil {
		return agent.StatePatch{}, err
	}
	if strings.TrimSpace(args.Code) == "" {
		return agent.StatePatch{}, errors.New("code is required")
	}

	files, err := t.exportData(ctx)
	if err != nil {
		return agent.StatePatch{}, err
	}
	res, err := t.runner.Run(ctx, sandbox.Request{Code: args.Code, Files: files})
	if err != nil {
		return agent.StatePatch{}, err
	}

	now := time.Now().UTC()
	var artifacts []agent.Artifact
	for _, out := range res.Outputs {
		artifacts = append(artifacts, plotArtifact(out, callID, now))
	}

	var ids []string
	for _, a := range artifacts {
		ids = append(ids, a.ID)
	}
	return agent.StatePatch{
		Messages: []*schema.Message{{
			Role:       schema.Tool,
			Content:    renderRunResult(res, ids),
			ToolCallID: callID,
			ToolName:   pythonToolName,
		}},
		SavedArtifacts: artifacts,
	}, nil
}

// plotArtifact 解析 save_plot 写出的 {"title", "figure"}；格式不符时整段 JSON 作为 data。
func plotArtifact(out sandbox.Output, callID string, now time.Time) agent.Artifact {
	a := agent.Artifact{ID: out.Name, Kind: "plot", Data: out.Data, ToolCallID: callID, CreatedAt: now}
	if _, err := uuid.Parse(a.ID); err != nil {
		a.ID = uuid.NewString()
	}
	var env struct {
		Title  string          `json:"title"`
		Figure json.RawMessage `json:"figure"`
	}
	if err := json.Unmarshal(out.Data, &env); err == nil && len(env.Figure) > 0 {
		a.Title = env.Title
		a.Data = env.Figure
	}
	return a
}

func renderRunResult(res *sandbox.Result, plotIDs []string) string {
	var b strings.Builder
	switch {
	case res.TimedOut:
		b.WriteString("Execution timed out.\n")
	case res.ExitCode != 0:
		fmt.Fprintf(&b, "Execution failed with exit code %d.\n", res.ExitCode)
	default:
		b.WriteString("Execution succeeded.\n")
	}
	if s := strings.TrimSpace(res.Stdout); s != "" {
		b.WriteString("stdout:\n")
		b.WriteString(s)
		b.WriteString("\n")
	}
	if s := strings.TrimSpace(res.Stderr); s != "" && res.ExitCode != 0 {
		b.WriteString("stderr:\n")
		b.WriteString(s)
		b.WriteString("\n")
	}
	if len(plotIDs) > 0 {
		fmt.Fprintf(&b, "Saved %d plot(s): %s\n", len(plotIDs), strings.Join(plotIDs, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

// exportData 把项目与单元导出为 CSV 输入文件。
func (t *PythonQueryTool) exportData(ctx context.Context) ([]sandbox.File, error) {
	projects, err := t.store.SearchProjects(ctx, storage.ProjectQuery{Limit: 5000})
	if err != nil {
		return nil, err
	}
	units, err := t.store.ListUnits(ctx, storage.UnitQuery{Limit: 5000})
	if err != nil {
		return nil, err
	}

	var pbuf bytes.Buffer
	w := csv.NewWriter(&pbuf)
	_ = w.Write([]string{"name", "developer", "location", "min_price", "max_price", "mid_price", "price_category", "latitude", "longitude"})
	for _, p := range projects {
		lat, lon := "", ""
		if p.Latitude != nil && p.Longitude != nil {
			lat = strconv.FormatFloat(*p.Latitude, 'f', -1, 64)
			lon = strconv.FormatFloat(*p.Longitude, 'f', -1, 64)
		}
		_ = w.Write([]string{
			p.Name, p.DeveloperName, p.LocationName,
			strconv.FormatInt(p.MinPrice, 10), strconv.FormatInt(p.MaxPrice, 10), strconv.FormatInt(p.MidPrice(), 10),
			PriceCategory(p.MidPrice()), lat, lon,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("export projects: %w", err)
	}

	var ubuf bytes.Buffer
	w = csv.NewWriter(&ubuf)
	_ = w.Write([]string{"project", "code", "type", "bedrooms", "price", "area_sqm"})
	for _, u := range units {
		_ = w.Write([]string{
			u.ProjectName, u.UnitCode, u.UnitType, strconv.Itoa(u.Bedrooms),
			strconv.FormatInt(u.Price, 10), strconv.FormatFloat(u.AreaSqm, 'f', -1, 64),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("export units: %w", err)
	}

	return []sandbox.File{
		{Name: "projects.csv", Data: pbuf.Bytes()},
		{Name: "units.csv", Data: ubuf.Bytes()},
	}, nil
}
