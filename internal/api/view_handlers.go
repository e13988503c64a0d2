// Package api provides HTTP handlers for the panotour API.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/onnwee/panotour/internal/render"
	"github.com/onnwee/panotour/internal/session"
)

// OpenRequest is the body of POST /api/view/open.
type OpenRequest struct {
	SceneID string `json:"sceneId"`
	Edit    bool   `json:"edit"`
}

// NavigateRequest is the body of POST /api/view/navigate.
type NavigateRequest struct {
	SceneID string `json:"sceneId"`
}

// MarkerRequest names a displayed marker.
type MarkerRequest struct {
	MarkerID string `json:"markerId"`
}

// TourHandlers serves the viewer and editor endpoints of a tour session.
type TourHandlers struct {
	sessions *SessionBinder
	catalog  session.Catalog
	hub      *render.Hub
	upgrader websocket.Upgrader
}

// NewTourHandlers creates the tour handlers. hub may be nil, in which case
// the websocket endpoint is unavailable. Websocket origins are checked
// against allowedOrigins, or must match the request host when the list is
// empty.
func NewTourHandlers(sessions *SessionBinder, catalog session.Catalog, hub *render.Hub, allowedOrigins []string) *TourHandlers {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}
	return &TourHandlers{
		sessions: sessions,
		catalog:  catalog,
		hub:      hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || allowed[origin] {
					return true
				}
				u, err := url.Parse(origin)
				return err == nil && strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

// bind resolves the request's session, writing an error response on failure.
func (h *TourHandlers) bind(w http.ResponseWriter, r *http.Request) (*session.Session, context.Context, bool) {
	s, ctx, err := h.sessions.Bind(w, r)
	if err != nil {
		slog.ErrorContext(ctx, "failed to bind session", "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Could not start a tour session")
		return nil, ctx, false
	}
	return s, ctx, true
}

// ensureLoaded displays the session's scene when nothing is on screen yet,
// as for a new session or one restored from stored state.
func ensureLoaded(ctx context.Context, s *session.Session) string {
	if s.Frame().Sky() != "" {
		return ""
	}
	return string(s.Open(ctx, s.SceneID(), s.Edit()).Outcome)
}

// GetView handles GET /api/view.
func (h *TourHandlers) GetView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r.Context(), http.MethodGet)
		return
	}
	s, ctx, ok := h.bind(w, r)
	if !ok {
		return
	}
	outcome := ensureLoaded(ctx, s)
	h.sessions.persist(ctx, s)
	respondView(w, ctx, s, http.StatusOK, outcome)
}

// Open handles POST /api/view/open: shows a scene in view or edit mode.
func (h *TourHandlers) Open(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r.Context(), http.MethodPost)
		return
	}
	var req OpenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s, ctx, ok := h.bind(w, r)
	if !ok {
		return
	}
	res := s.Open(ctx, strings.TrimSpace(req.SceneID), req.Edit)
	h.sessions.persist(ctx, s)
	respondView(w, ctx, s, http.StatusOK, string(res.Outcome))
}

// Reload handles POST /api/view/reload.
func (h *TourHandlers) Reload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r.Context(), http.MethodPost)
		return
	}
	s, ctx, ok := h.bind(w, r)
	if !ok {
		return
	}
	res := s.Reload(ctx)
	respondView(w, ctx, s, http.StatusOK, string(res.Outcome))
}

// Navigate handles POST /api/view/navigate.
func (h *TourHandlers) Navigate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r.Context(), http.MethodPost)
		return
	}
	var req NavigateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.SceneID) == "" {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "sceneId is required")
		return
	}
	s, ctx, ok := h.bind(w, r)
	if !ok {
		return
	}
	if err := s.Navigate(ctx, strings.TrimSpace(req.SceneID)); err != nil {
		writeSessionError(w, ctx, s, err)
		return
	}
	h.sessions.persist(ctx, s)
	respondView(w, ctx, s, http.StatusOK, "")
}

// Click handles POST /api/view/click: runs a marker's click behaviour, which
// navigates in view mode and selects the marker in edit mode.
func (h *TourHandlers) Click(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r.Context(), http.MethodPost)
		return
	}
	var req MarkerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s, ctx, ok := h.bind(w, r)
	if !ok {
		return
	}
	if err := s.Click(ctx, req.MarkerID); err != nil {
		writeSessionError(w, ctx, s, err)
		return
	}
	h.sessions.persist(ctx, s)
	respondView(w, ctx, s, http.StatusOK, "")
}

// helloMessage is the first websocket message: the full view, after which
// render commands follow.
type helloMessage struct {
	Op   string       `json:"op"`
	View session.View `json:"view"`
}

// Stream handles GET /api/view/ws: streams the session's render commands.
func (h *TourHandlers) Stream(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Render streaming is not enabled")
		return
	}
	s, ctx, ok := h.bind(w, r)
	if !ok {
		return
	}
	ensureLoaded(ctx, s)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.ErrorContext(ctx, "failed to upgrade websocket connection", "error", err)
		return
	}
	defer func() {
		h.hub.Unsubscribe(conn)
		conn.Close()
		slog.InfoContext(ctx, "render stream closed")
	}()

	if err := h.hub.Attach(s.ID(), conn, helloMessage{Op: "hello", View: s.Snapshot()}); err != nil {
		slog.WarnContext(ctx, "failed to send render stream hello", "error", err)
		return
	}
	slog.InfoContext(ctx, "render stream opened", "connections", h.hub.ConnectionCount(s.ID()))

	// Clients do not send messages; reading detects disconnection.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.WarnContext(ctx, "render stream closed unexpectedly", "error", err)
			}
			return
		}
	}
}
