package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wwwzy/EstateAgent/internal/agent"
	"github.com/wwwzy/EstateAgent/internal/storage"
)

const (
	defaultProjectLimit = 50
	maxProjectLimit     = 500
	recommendLimit      = 20
	maxBodyBytes        = 1 << 20
)

type chatRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

type chatResponse struct {
	ThreadID  string           `json:"thread_id"`
	TraceID   string           `json:"trace_id"`
	Reply     string           `json:"reply"`
	Plan      string           `json:"plan,omitempty"`
	Artifacts []agent.Artifact `json:"artifacts"`
	Failed    bool             `json:"failed"`
}

type projectJSON struct {
	Name          string   `json:"name"`
	Developer     string   `json:"developer,omitempty"`
	Location      string   `json:"location"`
	MinPrice      int64    `json:"min_price"`
	MaxPrice      int64    `json:"max_price"`
	PriceRange    string   `json:"price_range"`
	PaymentPlans  string   `json:"payment_plans,omitempty"`
	ThumbnailURL  string   `json:"thumbnail_url,omitempty"`
	Latitude      *float64 `json:"latitude,omitempty"`
	Longitude     *float64 `json:"longitude,omitempty"`
	UpdatedAtUnix int64    `json:"updated_at"`
}

// profileRequest 中缺省的字段保持不变。
type profileRequest struct {
	Name               *string   `json:"name"`
	PreferredLocations *[]string `json:"preferred_locations"`
	Budget             *int64    `json:"budget"`
	FamilySize         *int      `json:"family_size"`
	IsInvestor         *bool     `json:"is_investor"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, agent.ErrEmptyMessage.Error())
		return
	}

	u, ok := s.lookupUser(w, r, req.UserID)
	if !ok {
		return
	}

	res, err := s.engine.HandleMessage(r.Context(), u.ThreadID, u.ID, req.Message)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	artifacts := res.Artifacts
	if artifacts == nil {
		artifacts = []agent.Artifact{}
	}
	writeJSON(w, http.StatusOK, chatResponse{
		ThreadID:  res.ThreadID,
		TraceID:   res.TraceID,
		Reply:     res.Reply,
		Plan:      res.Plan,
		Artifacts: artifacts,
		Failed:    res.Failed,
	})
}

func (s *Server) handleClearChat(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	u, ok := s.lookupUser(w, r, userID)
	if !ok {
		return
	}
	if err := s.engine.ClearThread(r.Context(), u.ThreadID); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	projects, err := s.store.SearchProjects(r.Context(), storage.ProjectQuery{
		Location: strings.TrimSpace(r.URL.Query().Get("location")),
		Limit:    limit,
	})
	if err != nil {
		logFrom(r).Error().Err(err).Msg("search projects failed")
		writeError(w, http.StatusInternalServerError, "failed to load projects")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": toProjectJSON(projects)})
}

// handleRecommended 返回用户偏好区域内、不超过预算的项目；未设置偏好区域时在全部区域内检索。
func (s *Server) handleRecommended(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	u, ok := s.lookupUser(w, r, userID)
	if !ok {
		return
	}

	var maxPrice *int64
	if u.AverageBudget > 0 {
		b := u.AverageBudget
		maxPrice = &b
	}
	locations := u.PreferredLocations
	if len(locations) == 0 {
		locations = []string{""}
	}

	seen := make(map[string]struct{})
	var out []storage.Project
	for _, loc := range locations {
		projects, err := s.store.SearchProjects(r.Context(), storage.ProjectQuery{
			Location: loc,
			MaxPrice: maxPrice,
			Limit:    recommendLimit,
		})
		if err != nil {
			logFrom(r).Error().Err(err).Str("location", loc).Msg("search projects failed")
			writeError(w, http.StatusInternalServerError, "failed to load projects")
			return
		}
		for _, p := range projects {
			if _, dup := seen[p.Name]; dup {
				continue
			}
			seen[p.Name] = struct{}{}
			out = append(out, p)
		}
	}
	if len(out) > recommendLimit {
		out = out[:recommendLimit]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profile":  agent.ProfileFromUser(u),
		"projects": toProjectJSON(out),
	})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	u, ok := s.lookupUser(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, agent.ProfileFromUser(u))
}

func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Budget != nil && *req.Budget < 0 {
		writeError(w, http.StatusBadRequest, "budget must not be negative")
		return
	}
	if req.FamilySize != nil && *req.FamilySize < 0 {
		writeError(w, http.StatusBadRequest, "family_size must not be negative")
		return
	}

	u, err := s.store.UpdateUserProfile(r.Context(), r.PathValue("id"), storage.ProfileUpdate{
		Name:               req.Name,
		PreferredLocations: req.PreferredLocations,
		AverageBudget:      req.Budget,
		FamilySize:         req.FamilySize,
		IsInvestor:         req.IsInvestor,
	})
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		logFrom(r).Error().Err(err).Msg("update profile failed")
		writeError(w, http.StatusInternalServerError, "failed to update profile")
		return
	}
	writeJSON(w, http.StatusOK, agent.ProfileFromUser(u))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		logFrom(r).Warn().Err(err).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) lookupUser(w http.ResponseWriter, r *http.Request, id string) (*storage.User, bool) {
	u, err := s.store.GetUser(r.Context(), strings.TrimSpace(id))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return nil, false
	}
	if err != nil {
		logFrom(r).Error().Err(err).Msg("load user failed")
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return nil, false
	}
	return u, true
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, agent.ErrThreadBusy):
		writeError(w, http.StatusConflict, "a message for this conversation is still being processed")
	case errors.Is(err, agent.ErrEmptyMessage), errors.Is(err, agent.ErrEmptyThread):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logFrom(r).Error().Err(err).Msg("chat turn failed")
		writeError(w, http.StatusInternalServerError, "failed to process message")
	}
}

func toProjectJSON(in []storage.Project) []projectJSON {
	out := make([]projectJSON, 0, len(in))
	for _, p := range in {
		out = append(out, projectJSON{
			Name:          p.Name,
			Developer:     p.DeveloperName,
			Location:      p.LocationName,
			MinPrice:      p.MinPrice,
			MaxPrice:      p.MaxPrice,
			PriceRange:    agent.FormatEGP(p.MinPrice) + " - " + agent.FormatEGP(p.MaxPrice),
			PaymentPlans:  p.PaymentPlans,
			ThumbnailURL:  p.ThumbnailURL,
			Latitude:      p.Latitude,
			Longitude:     p.Longitude,
			UpdatedAtUnix: p.UpdatedAt.Truncate(time.Second).Unix(),
		})
	}
	return out
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultProjectLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > maxProjectLimit {
		n = maxProjectLimit
	}
	return n, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
