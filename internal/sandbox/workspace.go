package sandbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	maxOutputs     = 10
	maxOutputBytes = 1 << 20
	maxStreamBytes = 8000
)

// prelude 为脚本提供 load_csv 与 save_plot 两个辅助函数。
const prelude = `import csv, json, os, uuid

DATA_DIR = "/work/data"
PLOTS_DIR = "/work/plots"

def load_csv(name):
    path = os.path.join(DATA_DIR, name)
    try:
        import pandas as pd
        return pd.read_csv(path)
    except ImportError:
        with open(path, newline="", encoding="utf-8") as f:
            return list(csv.DictReader(f))

def save_plot(fig, title=""):
    data = fig.to_dict() if hasattr(fig, "to_dict") else fig
    plot_id = str(uuid.uuid4())
    with open(os.path.join(PLOTS_DIR, plot_id + ".json"), "w", encoding="utf-8") as f:
        json.dump({"title": title, "figure": data}, f, default=str)
    print("Plot saved with ID " + plot_id)
    return plot_id

`

// prepareWorkspace 在 base 下创建一次执行的工作目录：main.py、data/、plots/。
func prepareWorkspace(base string, req Request) (string, error) {
	dir, err := os.MkdirTemp(base, "estateagent-sandbox-")
	if err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	for _, sub := range []string{"data", "plots"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o777); err != nil {
			_ = os.RemoveAll(dir)
			return "", fmt.Errorf("create workspace: %w", err)
		}
	}
	// 容器内用户不一定与宿主机一致
	_ = os.Chmod(filepath.Join(dir, "plots"), 0o777)

	for _, f := range req.Files {
		name := filepath.Base(f.Name)
		if name == "." || name == string(filepath.Separator) || strings.HasPrefix(name, ".") {
			_ = os.RemoveAll(dir)
			return "", fmt.Errorf("invalid input file name %q", f.Name)
		}
		if err := os.WriteFile(filepath.Join(dir, "data", name), f.Data, 0o644); err != nil {
			_ = os.RemoveAll(dir)
			return "", fmt.Errorf("write input %s: %w", name, err)
		}
	}

	script := prelude + req.Code + "\n"
	if err := os.WriteFile(filepath.Join(dir, "main.py"), []byte(script), 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("write script: %w", err)
	}
	return dir, nil
}

// collectOutputs 读取 plots/ 下合法的 JSON 文件，按文件名排序，最多 maxOutputs 个。
func collectOutputs(dir string) ([]Output, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "plots", "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	var out []Output
	for _, path := range matches {
		if len(out) == maxOutputs {
			break
		}
		info, err := os.Stat(path)
		if err != nil || info.Size() > maxOutputBytes {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil || !json.Valid(data) {
			continue
		}
		out = append(out, Output{Name: strings.TrimSuffix(filepath.Base(path), ".json"), Data: data})
	}
	return out, nil
}

func truncateTail(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return "...(truncated)...\n" + s[len(s)-maxLen:]
}
