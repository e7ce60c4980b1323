package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"github.com/wwwzy/EstateAgent/internal/agent"
	"github.com/wwwzy/EstateAgent/internal/config"
	"github.com/wwwzy/EstateAgent/internal/storage"
)

// ChatEngine 是 HTTP 层驱动的对话引擎，*agent.Engine 实现了它。
type ChatEngine interface {
	HandleMessage(ctx context.Context, threadID, userID, text string) (agent.TurnResult, error)
	ClearThread(ctx context.Context, threadID string) error
}

// Store 是 HTTP 层需要的存储能力，*storage.Storage 实现了它。
type Store interface {
	Ping(ctx context.Context) error
	GetUser(ctx context.Context, id string) (*storage.User, error)
	UpdateUserProfile(ctx context.Context, id string, up storage.ProfileUpdate) (*storage.User, error)
	SearchProjects(ctx context.Context, q storage.ProjectQuery) ([]storage.Project, error)
}

type Server struct {
	cfg     config.ServerConfig
	engine  ChatEngine
	store   Store
	handler http.Handler
}

func New(cfg config.ServerConfig, engine ChatEngine, store Store) (*Server, error) {
	if engine == nil {
		return nil, errors.New("chat engine is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	s := &Server{cfg: cfg, engine: engine, store: store}
	s.handler = s.routes()
	return s, nil
}

// Handler 返回带访问日志中间件的路由，测试可直接交给 httptest。
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("DELETE /api/chat", s.handleClearChat)
	mux.HandleFunc("GET /api/projects", s.handleProjects)
	mux.HandleFunc("GET /api/projects/recommended", s.handleRecommended)
	mux.HandleFunc("GET /api/users/{id}/profile", s.handleGetProfile)
	mux.HandleFunc("PUT /api/users/{id}/profile", s.handlePutProfile)
	mux.HandleFunc("GET /api/healthz", s.handleHealthz)

	var h http.Handler = mux
	h = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("http request")
	})(h)
	h = hlog.RemoteAddrHandler("remote_addr")(h)
	h = hlog.NewHandler(log.Logger)(h)
	return h
}

// ListenAndServe 阻塞直到 ctx 取消，随后优雅关闭。
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	log.Info().Msg("http server stopped")
	return nil
}

func logFrom(r *http.Request) *zerolog.Logger {
	return hlog.FromRequest(r)
}
