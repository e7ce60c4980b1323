package agent

import "errors"

var (
	// ErrCheckpoint 表示快照读写失败。本轮对话中止，已有快照不会被推进。
	ErrCheckpoint = errors.New("checkpoint failure")
	// ErrModelInvoke 表示 planner/reasoner 的模型调用失败。
	ErrModelInvoke  = errors.New("model invocation failed")
	ErrEmptyThread  = errors.New("thread id is empty")
	ErrEmptyMessage = errors.New("message is empty")
	// ErrThreadBusy 表示同一线程已有一轮对话在处理。
	ErrThreadBusy   = errors.New("thread is busy")
	ErrToolNotFound = errors.New("tool not found")
)
