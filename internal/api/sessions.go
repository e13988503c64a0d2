package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/panotour/internal/middleware"
	"github.com/onnwee/panotour/internal/persist"
	"github.com/onnwee/panotour/internal/session"
)

// SessionCookie is the cookie carrying the tour session token.
const SessionCookie = "tour_session"

// SessionBinder attaches a tour session to each request. Requests without a
// usable token get a fresh session, returned in the cookie and in the
// X-Tour-Session response header.
type SessionBinder struct {
	manager      *session.Manager
	ttl          time.Duration
	secureCookie bool
}

// NewSessionBinder creates a binder. secureCookie marks the cookie Secure,
// which production deployments behind TLS should set.
func NewSessionBinder(manager *session.Manager, ttl time.Duration, secureCookie bool) *SessionBinder {
	return &SessionBinder{manager: manager, ttl: ttl, secureCookie: secureCookie}
}

// token returns the session token of a request: the header first, then the
// cookie, then the "session" query parameter used by websocket clients.
func token(r *http.Request) string {
	if t := r.Header.Get(middleware.SessionHeader); t != "" {
		return t
	}
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("session")
}

// Bind resolves or creates the session for r. The returned context carries
// the session id for logging.
func (b *SessionBinder) Bind(w http.ResponseWriter, r *http.Request) (*session.Session, context.Context, error) {
	ctx := r.Context()

	if t := token(r); t != "" {
		s, err := b.manager.Resolve(ctx, t)
		if err == nil {
			return s, middleware.SetSessionID(ctx, s.ID()), nil
		}
		if !errors.Is(err, session.ErrInvalidToken) && !errors.Is(err, session.ErrExpiredToken) {
			return nil, ctx, err
		}
		slog.InfoContext(ctx, "replacing unusable session token", "reason", err.Error())
	}

	s, t, err := b.manager.Create(ctx)
	if err != nil {
		return nil, ctx, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    t,
		Path:     "/",
		MaxAge:   int(b.ttl.Seconds()),
		HttpOnly: true,
		Secure:   b.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	w.Header().Set(middleware.SessionHeader, t)
	return s, middleware.SetSessionID(ctx, s.ID()), nil
}

// persist stores the session state after a request changed it. Failures are
// logged; the live session stays authoritative.
func (b *SessionBinder) persist(ctx context.Context, s *session.Session) {
	if err := b.manager.Persist(ctx, s); err != nil {
		slog.WarnContext(ctx, "failed to persist session state", "error", err)
	}
}

// ViewResponse is returned by every tour endpoint that changes what is shown.
// Notices queued by a failed request are delivered with the next view.
type ViewResponse struct {
	View    session.View     `json:"view"`
	Outcome string           `json:"outcome,omitempty"`
	Created any              `json:"created,omitempty"`
	Notices []persist.Notice `json:"notices,omitempty"`
}

// respondView writes the session's view and drains its pending notices.
func respondView(w http.ResponseWriter, ctx context.Context, s *session.Session, status int, outcome string) {
	respondCreated(w, ctx, s, status, outcome, nil)
}

func respondCreated(w http.ResponseWriter, ctx context.Context, s *session.Session, status int, outcome string, created any) {
	writeJSON(w, ctx, status, ViewResponse{
		View:    s.Snapshot(),
		Outcome: outcome,
		Created: created,
		Notices: s.Alerts().Drain(),
	})
}
