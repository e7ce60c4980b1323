package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
)

// Handle 是注册表中的一个可调用工具。Invoke 不会返回 error，也不会把 panic 抛出边界。
type Handle struct {
	name     string
	text     tool.InvokableTool
	patching PatchingTool
}

func (h Handle) Name() string { return h.name }

func (h Handle) Invoke(ctx context.Context, args map[string]any, callID string) (res ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("tool", h.name).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("tool panicked")
			res = ErrorResult(h.name, fmt.Errorf("panic: %v", r))
		}
	}()

	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return ErrorResult(h.name, fmt.Errorf("encode arguments: %w", err))
	}

	if h.patching != nil {
		patch, err := h.patching.InvokePatch(ctx, string(raw), callID)
		if err != nil {
			return ErrorResult(h.name, describeErr(ctx, err))
		}
		return PatchResult(patch)
	}

	out, err := h.text.InvokableRun(ctx, string(raw))
	if err != nil {
		return ErrorResult(h.name, describeErr(ctx, err))
	}
	return TextResult(out)
}

func describeErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("timed out: %w", err)
	}
	return err
}

// Registry 在进程启动时构建一次，之后只读，可被多个线程并发使用。
type Registry struct {
	handles map[string]Handle
	infos   []*schema.ToolInfo
}

func NewRegistry(ctx context.Context, tools []tool.BaseTool) (*Registry, error) {
	r := &Registry{handles: make(map[string]Handle, len(tools))}
	for _, t := range tools {
		if t == nil {
			continue
		}
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool info: %w", err)
		}
		if info == nil || info.Name == "" {
			return nil, errors.New("tool info has no name")
		}
		if _, dup := r.handles[info.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", info.Name)
		}

		h := Handle{name: info.Name}
		if pt, ok := t.(PatchingTool); ok {
			h.patching = pt
		} else if it, ok := t.(tool.InvokableTool); ok {
			h.text = it
		} else {
			return nil, fmt.Errorf("tool %q is not invokable", info.Name)
		}
		r.handles[info.Name] = h
		r.infos = append(r.infos, info)
	}
	return r, nil
}

func (r *Registry) Resolve(name string) (Handle, bool) {
	if r == nil {
		return Handle{}, false
	}
	h, ok := r.handles[name]
	return h, ok
}

// Lookup 与 Resolve 相同，找不到时返回包装了 ErrToolNotFound 的错误。
func (r *Registry) Lookup(name string) (Handle, error) {
	h, ok := r.Resolve(name)
	if !ok {
		return Handle{}, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	return h, nil
}

// Infos 返回按注册顺序排列的工具描述，用于绑定到模型。
func (r *Registry) Infos() []*schema.ToolInfo {
	if r == nil {
		return nil
	}
	return append([]*schema.ToolInfo(nil), r.infos...)
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.infos))
	for _, info := range r.infos {
		out = append(out, info.Name)
	}
	return out
}

// Describe 渲染 "name: desc" 列表，供 planner 的 prompt 使用。
func (r *Registry) Describe() string {
	if r == nil {
		return ""
	}
	var b []byte
	for _, info := range r.infos {
		b = fmt.Appendf(b, "- %s: %s\n", info.Name, info.Desc)
	}
	return string(b)
}
