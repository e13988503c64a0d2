package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/panotour/internal/scene"
)

// CreateScenarioRequest is the body of POST /api/scenarios.
type CreateScenarioRequest struct {
	Name string `json:"name"`
}

// SelectScenarioRequest is the body of PUT /api/session/scenario.
type SelectScenarioRequest struct {
	ScenarioID string `json:"scenarioId"`
}

// CreateSceneRequest is the body of POST /api/scenes.
type CreateSceneRequest struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

// RenameSceneRequest is the body of PATCH /api/scenes/{id}.
type RenameSceneRequest struct {
	Name string `json:"name"`
}

// CreateHotspotRequest is the body of POST /api/hotspots.
type CreateHotspotRequest struct {
	TargetSceneID string `json:"targetSceneId"`
	Text          string `json:"text"`
}

// ScenariosResponse lists the scenarios and the session's selection.
type ScenariosResponse struct {
	Scenarios []scene.Scenario `json:"scenarios"`
	Selected  string           `json:"selected"`
}

// ScenesResponse lists the scenes of the selected scenario.
type ScenesResponse struct {
	ScenarioID string        `json:"scenarioId"`
	Scenes     []scene.Scene `json:"scenes"`
}

// pathID extracts {id} from prefix + "{id}". It returns "" for nested or
// empty ids.
func pathID(path, prefix string) string {
	id := strings.TrimPrefix(path, prefix)
	if id == path || id == "" || strings.Contains(id, "/") {
		return ""
	}
	return id
}

// Scenarios handles GET and POST /api/scenarios.
func (h *TourHandlers) Scenarios(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s, ctx, ok := h.bind(w, r)
		if !ok {
			return
		}
		ensureLoaded(ctx, s)
		scenarios, err := h.catalog.ListScenarios(ctx)
		if err != nil {
			writeSessionError(w, ctx, s, err)
			return
		}
		if scenarios == nil {
			scenarios = []scene.Scenario{}
		}
		writeJSON(w, ctx, http.StatusOK, ScenariosResponse{Scenarios: scenarios, Selected: s.ScenarioID()})

	case http.MethodPost:
		var req CreateScenarioRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		s, ctx, ok := h.bind(w, r)
		if !ok {
			return
		}
		created, err := s.CreateScenario(ctx, req.Name)
		if err != nil {
			writeSessionError(w, ctx, s, err)
			return
		}
		respondCreated(w, ctx, s, http.StatusCreated, "", created)

	default:
		methodNotAllowed(w, r.Context(), "GET, POST")
	}
}

// SelectScenario handles PUT /api/session/scenario.
func (h *TourHandlers) SelectScenario(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r.Context(), http.MethodPut)
		return
	}
	var req SelectScenarioRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ScenarioID) == "" {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "scenarioId is required")
		return
	}
	s, ctx, ok := h.bind(w, r)
	if !ok {
		return
	}
	res, err := s.SelectScenario(ctx, strings.TrimSpace(req.ScenarioID))
	if err != nil {
		writeSessionError(w, ctx, s, err)
		return
	}
	h.sessions.persist(ctx, s)
	respondView(w, ctx, s, http.StatusOK, string(res.Outcome))
}

// Scenes handles GET and POST /api/scenes.
func (h *TourHandlers) Scenes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s, ctx, ok := h.bind(w, r)
		if !ok {
			return
		}
		ensureLoaded(ctx, s)
		scenes, err := s.ListScenes(ctx)
		if err != nil {
			writeSessionError(w, ctx, s, err)
			return
		}
		if scenes == nil {
			scenes = []scene.Scene{}
		}
		writeJSON(w, ctx, http.StatusOK, ScenesResponse{ScenarioID: s.ScenarioID(), Scenes: scenes})

	case http.MethodPost:
		var req CreateSceneRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		s, ctx, ok := h.bind(w, r)
		if !ok {
			return
		}
		created, err := s.CreateScene(ctx, req.Name, strings.TrimSpace(req.Image))
		if err != nil {
			writeSessionError(w, ctx, s, err)
			return
		}
		respondCreated(w, ctx, s, http.StatusCreated, "", created)

	default:
		methodNotAllowed(w, r.Context(), "GET, POST")
	}
}

// Scene handles PATCH and DELETE /api/scenes/{id}.
func (h *TourHandlers) Scene(w http.ResponseWriter, r *http.Request) {
	sceneID := pathID(r.URL.Path, "/api/scenes/")
	if sceneID == "" {
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Scene not found")
		return
	}

	switch r.Method {
	case http.MethodPatch:
		var req RenameSceneRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		s, ctx, ok := h.bind(w, r)
		if !ok {
			return
		}
		if err := s.RenameScene(ctx, sceneID, req.Name); err != nil {
			writeSessionError(w, ctx, s, err)
			return
		}
		respondView(w, ctx, s, http.StatusOK, "")

	case http.MethodDelete:
		s, ctx, ok := h.bind(w, r)
		if !ok {
			return
		}
		if err := s.DeleteScene(ctx, sceneID); err != nil {
			writeSessionError(w, ctx, s, err)
			return
		}
		slog.InfoContext(ctx, "scene deleted", "scene_id", sceneID)
		h.sessions.persist(ctx, s)
		respondView(w, ctx, s, http.StatusOK, "")

	default:
		methodNotAllowed(w, r.Context(), "PATCH, DELETE")
	}
}

// Hotspots handles POST /api/hotspots: adds a hotspot to the displayed
// scene at the default placement.
func (h *TourHandlers) Hotspots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r.Context(), http.MethodPost)
		return
	}
	var req CreateHotspotRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s, ctx, ok := h.bind(w, r)
	if !ok {
		return
	}
	created, err := s.CreateHotspot(ctx, req.TargetSceneID, req.Text)
	if err != nil {
		writeSessionError(w, ctx, s, err)
		return
	}
	respondCreated(w, ctx, s, http.StatusCreated, "", created)
}

// Hotspot handles DELETE /api/hotspots/{id}.
func (h *TourHandlers) Hotspot(w http.ResponseWriter, r *http.Request) {
	hotspotID := pathID(r.URL.Path, "/api/hotspots/")
	if hotspotID == "" {
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Hotspot not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r.Context(), http.MethodDelete)
		return
	}
	s, ctx, ok := h.bind(w, r)
	if !ok {
		return
	}
	if err := s.DeleteHotspot(ctx, hotspotID); err != nil {
		writeSessionError(w, ctx, s, err)
		return
	}
	respondView(w, ctx, s, http.StatusOK, "")
}

// SavePositions handles PUT /api/hotspots/positions: persists the displayed
// placement of every hotspot on the current scene in one batch.
func (h *TourHandlers) SavePositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r.Context(), http.MethodPut)
		return
	}
	s, ctx, ok := h.bind(w, r)
	if !ok {
		return
	}
	if err := s.SaveAllPositions(ctx); err != nil {
		writeSessionError(w, ctx, s, err)
		return
	}
	respondView(w, ctx, s, http.StatusOK, "")
}
