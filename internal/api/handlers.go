// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/vigil/internal/alerts"
	"github.com/tomtom215/vigil/internal/archive"
	"github.com/tomtom215/vigil/internal/audit"
	"github.com/tomtom215/vigil/internal/auth"
	"github.com/tomtom215/vigil/internal/config"
	"github.com/tomtom215/vigil/internal/detection"
	"github.com/tomtom215/vigil/internal/escalation"
	"github.com/tomtom215/vigil/internal/eventprocessor"
	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/middleware"
	"github.com/tomtom215/vigil/internal/notify"
	"github.com/tomtom215/vigil/internal/threatscore"
	"github.com/tomtom215/vigil/internal/validation"
	ws "github.com/tomtom215/vigil/internal/websocket"
)

// ReadinessCheck is one dependency probed by GET /health/ready.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps are the services behind the API. Alerts is required; every other
// field may be nil, in which case its routes answer 503.
type Deps struct {
	Alerts     *alerts.Service
	Threats    *threatscore.Service
	Escalation *escalation.Scheduler
	Detection  *detection.Engine

	// Publisher, when set, makes POST /signals asynchronous: signals are
	// published to the signal topic instead of being evaluated inline.
	Publisher *eventprocessor.Publisher

	Hub         *ws.Hub
	Inbox       *notify.InboxSender
	Audit       *audit.Logger
	Archive     *archive.Archive
	Performance *middleware.PerformanceMonitor
	AuthMode    auth.Mode
	Readiness   []ReadinessCheck
}

// Handler serves the admin API.
type Handler struct {
	alerts     *alerts.Service
	threats    *threatscore.Service
	escalation *escalation.Scheduler
	detection  *detection.Engine
	publisher  *eventprocessor.Publisher
	wsHub      *ws.Hub
	inbox      *notify.InboxSender
	audit      *audit.Logger
	archive    *archive.Archive
	perf       *middleware.PerformanceMonitor
	authMode   auth.Mode
	readiness  []ReadinessCheck
	config     config.APIConfig
	startTime  time.Time
}

// NewHandler creates the API handler.
//
//nolint:gocritic // hugeParam: Deps passed by value for API simplicity
func NewHandler(deps Deps, cfg config.APIConfig) (*Handler, error) {
	if deps.Alerts == nil {
		return nil, errors.New("api: alerts service is required")
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = config.DefaultAPIConfig().DefaultPageSize
	}
	if cfg.MaxPageSize < cfg.DefaultPageSize {
		cfg.MaxPageSize = cfg.DefaultPageSize
	}
	return &Handler{
		alerts:     deps.Alerts,
		threats:    deps.Threats,
		escalation: deps.Escalation,
		detection:  deps.Detection,
		publisher:  deps.Publisher,
		wsHub:      deps.Hub,
		inbox:      deps.Inbox,
		audit:      deps.Audit,
		archive:    deps.Archive,
		perf:       deps.Performance,
		authMode:   deps.AuthMode,
		readiness:  deps.Readiness,
		config:     cfg,
		startTime:  time.Now(),
	}, nil
}

// sanitizeLogValue escapes control characters so that request values cannot
// forge log lines.
func sanitizeLogValue(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			fmt.Fprintf(&result, "\\x%02x", r)
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// decodeJSON decodes the request body into v and writes the error response
// itself. It reports whether the handler should continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	return decodeBody(w, r, v, false)
}

// decodeOptionalJSON is decodeJSON that accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	return decodeBody(w, r, v, true)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}, optional bool) bool {
	rw := NewResponseWriter(w, r)
	if r.Body == nil || r.Body == http.NoBody {
		if optional {
			return true
		}
		rw.BadRequest("request body is required")
		return false
	}

	// The body is read in full first so that the MaxBytesReader error
	// surfaces here rather than as a truncated-JSON syntax error.
	body, err := io.ReadAll(r.Body)
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		rw.Error(http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
		return false
	case err != nil:
		rw.BadRequest("could not read request body")
		return false
	case len(bytes.TrimSpace(body)) == 0:
		if optional {
			return true
		}
		rw.BadRequest("request body is required")
		return false
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		rw.BadRequest("invalid JSON: " + logging.SanitizeError(err.Error()))
		return false
	}
	return true
}

// validateRequest runs struct validation and writes a 400 on failure.
func validateRequest(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	verr := validation.ValidateStruct(v)
	if verr == nil {
		return true
	}
	apiErr := verr.ToAPIError()
	NewResponseWriter(w, r).ValidationError(apiErr.Message, apiErr.Details)
	return false
}

// actorFrom builds the audit actor of the authenticated caller.
func (h *Handler) actorFrom(r *http.Request) audit.Actor {
	p := auth.PrincipalFromContext(r.Context())
	if p == nil {
		return audit.SystemActor()
	}
	method := string(h.authMode)
	if method == "" {
		method = string(auth.ModeJWT)
	}
	return audit.ActorFromUser(p.Subject, p.Subject, []string{string(p.Role)}, method)
}

// pagination reads limit and offset. Limits are clamped to the configured
// maximum; negative or malformed values are rejected.
func (h *Handler) pagination(r *http.Request) (limit, offset int, err error) {
	limit = h.config.DefaultPageSize
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 {
			return 0, 0, fmt.Errorf("limit must be a positive integer")
		}
	}
	if limit > h.config.MaxPageSize {
		limit = h.config.MaxPageSize
	}
	if v := q.Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

func paginationMeta(total int64, count, limit, offset int) *PaginationMeta {
	return &PaginationMeta{
		Total:   total,
		Count:   count,
		Limit:   limit,
		Offset:  offset,
		HasMore: int64(offset+count) < total,
	}
}

// splitList parses a comma separated query value.
func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseTimeParam reads an RFC 3339 timestamp. Missing values return the zero
// time.
func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC 3339 timestamp", name)
	}
	return t, nil
}

// getUpgrader creates a WebSocket upgrader with origin checking and a
// handshake timeout.
func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin validates WebSocket connection origins. Browsers
// always send Origin, so a missing header is rejected.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Warn().Msg("WebSocket connection rejected: missing Origin header")
		return false
	}

	for _, allowedOrigin := range h.config.CORSOrigins {
		if allowedOrigin == "*" || allowedOrigin == origin {
			return true
		}
	}

	logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("WebSocket connection rejected from unauthorized origin")
	return false
}
