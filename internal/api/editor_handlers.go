package api

import (
	"net/http"

	"github.com/onnwee/panotour/internal/coord"
	"github.com/onnwee/panotour/internal/session"
)

// Editor handles GET /api/editor: the editor state of the session.
func (h *TourHandlers) Editor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r.Context(), http.MethodGet)
		return
	}
	s, ctx, ok := h.bind(w, r)
	if !ok {
		return
	}
	respondView(w, ctx, s, http.StatusOK, "")
}

// SelectMarker handles POST /api/editor/select.
func (h *TourHandlers) SelectMarker(w http.ResponseWriter, r *http.Request) {
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
	if err := s.SelectMarker(ctx, req.MarkerID); err != nil {
		writeSessionError(w, ctx, s, err)
		return
	}
	respondView(w, ctx, s, http.StatusOK, "")
}

// Stage handles POST /api/editor/stage: changes the staged position and/or
// size of the selected marker.
func (h *TourHandlers) Stage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r.Context(), http.MethodPost)
		return
	}
	var req session.Stage
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Position == nil && req.Size == nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "position or size is required")
		return
	}
	s, ctx, ok := h.bind(w, r)
	if !ok {
		return
	}
	if err := s.Stage(ctx, req); err != nil {
		writeSessionError(w, ctx, s, err)
		return
	}
	respondView(w, ctx, s, http.StatusOK, "")
}

// Pick handles POST /api/editor/pick: stages the direction of a scene point
// given in cartesian coordinates.
func (h *TourHandlers) Pick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r.Context(), http.MethodPost)
		return
	}
	var v coord.Vec3
	if !decodeJSON(w, r, &v) {
		return
	}
	s, ctx, ok := h.bind(w, r)
	if !ok {
		return
	}
	if err := s.Pick(ctx, v); err != nil {
		writeSessionError(w, ctx, s, err)
		return
	}
	respondView(w, ctx, s, http.StatusOK, "")
}

// Save handles POST /api/editor/save: persists the staged edit.
func (h *TourHandlers) Save(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r.Context(), http.MethodPost)
		return
	}
	s, ctx, ok := h.bind(w, r)
	if !ok {
		return
	}
	if err := s.SaveEdit(ctx); err != nil {
		writeSessionError(w, ctx, s, err)
		return
	}
	respondView(w, ctx, s, http.StatusOK, "")
}

// Cancel handles POST /api/editor/cancel: reverts the selected marker.
func (h *TourHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r.Context(), http.MethodPost)
		return
	}
	s, ctx, ok := h.bind(w, r)
	if !ok {
		return
	}
	if err := s.CancelEdit(ctx); err != nil {
		writeSessionError(w, ctx, s, err)
		return
	}
	respondView(w, ctx, s, http.StatusOK, "")
}
