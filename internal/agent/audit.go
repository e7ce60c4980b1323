package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
	"github.com/wwwzy/EstateAgent/internal/storage"
)

const (
	auditTruncateLimit = 2048
)

// AuditRecorder 是审计记录的持久化接口，*storage.Storage 实现了它。
type AuditRecorder interface {
	InsertAuditRecord(ctx context.Context, rec *storage.AuditRecord) error
	UpdateAuditRecord(ctx context.Context, id uint64, up storage.AuditUpdate) error
}

// AuditedTool 是一个工具包装器，用于在工具执行前后记录审计日志
type AuditedTool struct {
	impl tool.InvokableTool
	auditor
}

// auditedPatchingTool 额外保留被包装工具的 PatchingTool 能力。
type auditedPatchingTool struct {
	patching PatchingTool
	auditor
}

type auditor struct {
	recorder AuditRecorder
}

// WrapWithAudit 包装全部工具；recorder 为 nil 时原样返回。
func WrapWithAudit(tools []tool.BaseTool, recorder AuditRecorder) []tool.BaseTool {
	if recorder == nil {
		return tools
	}
	out := make([]tool.BaseTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, wrapWithAudit(t, recorder))
	}
	return out
}

func wrapWithAudit(t tool.BaseTool, recorder AuditRecorder) tool.BaseTool {
	if pt, ok := t.(PatchingTool); ok {
		return &auditedPatchingTool{patching: pt, auditor: auditor{recorder: recorder}}
	}
	if it, ok := t.(tool.InvokableTool); ok {
		return &AuditedTool{impl: it, auditor: auditor{recorder: recorder}}
	}
	return t
}

func (t *AuditedTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return t.impl.Info(ctx)
}

func (t *AuditedTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	rec := t.begin(ctx, t.impl, argumentsInJSON)
	result, runErr := t.impl.InvokableRun(ctx, argumentsInJSON, opts...)
	t.finish(ctx, rec, result, runErr)
	return result, runErr
}

func (t *auditedPatchingTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return t.patching.Info(ctx)
}

func (t *auditedPatchingTool) InvokePatch(ctx context.Context, argumentsInJSON string, callID string) (StatePatch, error) {
	rec := t.begin(ctx, t.patching, argumentsInJSON)
	patch, runErr := t.patching.InvokePatch(ctx, argumentsInJSON, callID)
	t.finish(ctx, rec, summarizePatch(patch), runErr)
	return patch, runErr
}

// begin 插入 Status=running 的初始记录。插入失败只打日志，不阻断工具执行。
func (t auditor) begin(ctx context.Context, info tool.BaseTool, args string) *storage.AuditRecord {
	action := "unknown"
	if ti, err := info.Info(ctx); err == nil && ti != nil {
		action = ti.Name
	}
	rec := &storage.AuditRecord{
		TraceID:    GetTraceID(ctx),
		ThreadID:   ThreadIDFrom(ctx),
		Action:     action,
		ParamsJSON: truncate(args, auditTruncateLimit),
		Status:     "running",
		StartedAt:  time.Now().UTC(),
	}
	if err := t.recorder.InsertAuditRecord(ctx, rec); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("tool", action).Msg("failed to insert audit record")
	}
	return rec
}

func (t auditor) finish(ctx context.Context, rec *storage.AuditRecord, result string, runErr error) {
	// 只有在 Insert 成功且有了 ID 后，才能 Update
	if rec.ID == 0 {
		return
	}
	finishedAt := time.Now().UTC()
	status := "success"
	up := storage.AuditUpdate{Status: &status, FinishedAt: &finishedAt}
	if runErr != nil {
		status = "failed"
		e := truncate(runErr.Error(), auditTruncateLimit)
		up.ErrorMessage = &e
	} else {
		r := truncate(result, auditTruncateLimit)
		up.ResultJSON = &r
	}
	// 工具可能因超时返回，审计更新不应再受同一个 deadline 影响
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := t.recorder.UpdateAuditRecord(uctx, rec.ID, up); err != nil {
		log.Ctx(ctx).Warn().Err(err).Uint64("audit_id", rec.ID).Msg("failed to update audit record")
	}
}

func summarizePatch(p StatePatch) string {
	summary := map[string]any{
		"messages":        len(p.Messages),
		"saved_artifacts": len(p.SavedArtifacts),
	}
	if n := len(p.Messages); n > 0 && p.Messages[0] != nil {
		summary["first_message"] = truncate(p.Messages[0].Content, 512)
	}
	b, _ := json.Marshal(summary)
	return string(b)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "...(truncated)"
}
