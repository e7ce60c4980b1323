// Package sandbox 在无网络的 docker 容器中执行用户分析代码。
package sandbox

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("python sandbox is disabled")

type Config struct {
	Enabled  bool          `mapstructure:"enabled"`
	Image    string        `mapstructure:"image"`
	Timeout  time.Duration `mapstructure:"timeout"`
	MemoryMB int64         `mapstructure:"memory_mb"`
	// WorkDir 为宿主机上的临时工作目录根；为空时使用系统临时目录。
	WorkDir string `mapstructure:"work_dir"`
	// Platform 形如 linux/amd64，为空时由 daemon 决定。
	Platform string `mapstructure:"platform"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:  false,
		Image:    "python:3.12-slim",
		Timeout:  60 * time.Second,
		MemoryMB: 512,
	}
}

// File 是挂载到容器 /work/data 下的输入文件。
type File struct {
	Name string
	Data []byte
}

type Request struct {
	Code  string
	Files []File
}

// Output 是脚本写入 /work/plots 的 JSON 文件。
type Output struct {
	Name string
	Data []byte
}

type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int64
	TimedOut bool
	Outputs  []Output
}

// Runner 执行一段 python 代码。
type Runner interface {
	Run(ctx context.Context, req Request) (*Result, error)
}
