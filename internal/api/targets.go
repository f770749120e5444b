package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/change-monitor/internal/monitor"
)

const (
	defaultChangeLimit = 50
	maxChangeLimit     = 500
	storeTimeout       = 3 * time.Second
	submitTimeout      = 5 * time.Second
)

// Submitter enqueues an immediate fetch job for a new target.
type Submitter interface {
	Submit(ctx context.Context, target monitor.Target) error
}

// TargetHandler serves the target management endpoints.
type TargetHandler struct {
	targets   monitor.TargetStore
	changes   monitor.ChangeStore
	submitter Submitter
	ids       monitor.IDGenerator
	clock     monitor.Clock
	logger    *zap.Logger
}

// NewTargetHandler wires the stores, submitter and logger.
func NewTargetHandler(
	targets monitor.TargetStore,
	changes monitor.ChangeStore,
	submitter Submitter,
	ids monitor.IDGenerator,
	clock monitor.Clock,
	logger *zap.Logger,
) *TargetHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TargetHandler{
		targets:   targets,
		changes:   changes,
		submitter: submitter,
		ids:       ids,
		clock:     clock,
		logger:    logger,
	}
}

type createTargetRequest struct {
	URL       string `json:"url"`
	Type      string `json:"type"`
	Frequency string `json:"frequency"`
	Owner     string `json:"owner"`
}

type targetDTO struct {
	ID          string     `json:"id"`
	URL         string     `json:"url"`
	Type        string     `json:"type"`
	Frequency   string     `json:"frequency"`
	Active      bool       `json:"active"`
	Owner       string     `json:"owner,omitempty"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toTargetDTO(t monitor.Target) targetDTO {
	return targetDTO{
		ID:          t.ID,
		URL:         t.URL,
		Type:        string(t.Type),
		Frequency:   string(t.Frequency),
		Active:      t.Active,
		Owner:       t.Owner,
		LastChecked: t.LastChecked,
		CreatedAt:   t.CreatedAt,
	}
}

// Create handles POST /v1/targets. It stores the target and enqueues an
// immediate fetch. The response is 201 with {"target": {...}, "queued": bool}.
func (h *TargetHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	target, err := h.newTarget(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	if err := h.targets.CreateTarget(ctx, target); err != nil {
		h.logger.Error("create target failed", zap.String("target_id", target.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create target")
		return
	}

	queued := true
	submitCtx, cancelSubmit := context.WithTimeout(r.Context(), submitTimeout)
	defer cancelSubmit()
	if err := h.submitter.Submit(submitCtx, target); err != nil {
		queued = false
		h.logger.Warn("immediate fetch not queued", zap.String("target_id", target.ID), zap.Error(err))
	}

	h.logger.Info("target created",
		zap.String("target_id", target.ID),
		zap.String("type", string(target.Type)),
		zap.Bool("queued", queued),
	)
	writeJSON(w, http.StatusCreated, map[string]any{"target": toTargetDTO(target), "queued": queued})
}

func (h *TargetHandler) newTarget(req createTargetRequest) (monitor.Target, error) {
	rawURL := strings.TrimSpace(req.URL)
	u, err := url.Parse(rawURL)
	if rawURL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return monitor.Target{}, errors.New("url must be an absolute http(s) URL")
	}
	kind := monitor.TargetType(strings.ToLower(strings.TrimSpace(req.Type)))
	if !kind.Valid() {
		return monitor.Target{}, fmt.Errorf("invalid type %q", req.Type)
	}
	frequency := monitor.FrequencyDaily
	if req.Frequency != "" {
		frequency = monitor.Frequency(strings.ToLower(strings.TrimSpace(req.Frequency)))
		if !frequency.Valid() {
			return monitor.Target{}, fmt.Errorf("invalid frequency %q", req.Frequency)
		}
	}
	id, err := h.ids.NewID()
	if err != nil {
		return monitor.Target{}, fmt.Errorf("generate target id: %w", err)
	}
	return monitor.Target{
		ID:        id,
		URL:       rawURL,
		Type:      kind,
		Frequency: frequency,
		Active:    true,
		Owner:     strings.TrimSpace(req.Owner),
		CreatedAt: h.clock.Now(),
	}, nil
}

// List handles GET /v1/targets?active=true.
func (h *TargetHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	var (
		targets []monitor.Target
		err     error
	)
	switch strings.ToLower(r.URL.Query().Get("active")) {
	case "":
		targets, err = h.targets.ListTargets(ctx)
	case "true", "1":
		targets, err = h.targets.ListActiveTargets(ctx)
	default:
		writeError(w, http.StatusBadRequest, "invalid active filter")
		return
	}
	if err != nil {
		h.logger.Error("list targets failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list targets")
		return
	}
	out := make([]targetDTO, 0, len(targets))
	for _, t := range targets {
		out = append(out, toTargetDTO(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"targets": out})
}

// Get handles GET /v1/targets/{id}.
func (h *TargetHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	target, err := h.targets.GetTarget(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.storeError(w, "get target", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"target": toTargetDTO(target)})
}

// Deactivate handles DELETE /v1/targets/{id}. Targets are never removed.
func (h *TargetHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	id := chi.URLParam(r, "id")
	if err := h.targets.DeactivateTarget(ctx, id); err != nil {
		h.storeError(w, "deactivate target", err)
		return
	}
	h.logger.Info("target deactivated", zap.String("target_id", id))
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "active": false})
}

// ListChanges handles GET /v1/targets/{id}/changes?limit=&offset=, newest first.
func (h *TargetHandler) ListChanges(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultChangeLimit, maxChangeLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	id := chi.URLParam(r, "id")
	if _, err := h.targets.GetTarget(ctx, id); err != nil {
		h.storeError(w, "get target", err)
		return
	}
	changes, err := h.changes.ListChanges(ctx, id)
	if err != nil {
		h.storeError(w, "list changes", err)
		return
	}
	if offset >= len(changes) {
		changes = nil
	} else {
		changes = changes[offset:min(offset+limit, len(changes))]
	}
	if changes == nil {
		changes = []monitor.ChangeRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": changes})
}

func (h *TargetHandler) storeError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, monitor.ErrNotFound) {
		writeError(w, http.StatusNotFound, "target not found")
		return
	}
	h.logger.Error(op+" failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to "+op)
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
