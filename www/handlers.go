package www

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"missiond/dispatch"
)

func (h *Handlers) jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (h *Handlers) apiHealthCheck(w http.ResponseWriter, r *http.Request) {
	fleetOK := false
	if err := h.engine.Flowcore().Ping(); err == nil {
		fleetOK = true
	}
	h.jsonOK(w, map[string]any{
		"status":    "ok",
		"fleet":     fleetOK,
		"messaging": h.engine.MsgClient().IsConnected(),
		"missions":  h.engine.Pool().ActiveCount(),
	})
}

func (h *Handlers) apiSubmitMission(w http.ResponseWriter, r *http.Request) {
	var req dispatch.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	id, err := h.engine.SubmitMission(&req)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	h.jsonOK(w, map[string]string{"missionId": id})
}

func (h *Handlers) apiListMissions(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, h.engine.Executor().ListMissions())
}

func (h *Handlers) apiGetMission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, err := h.engine.Executor().GetMission(id)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	h.jsonOK(w, state)
}

func (h *Handlers) apiPauseMission(w http.ResponseWriter, r *http.Request) {
	h.updateMission(w, chi.URLParam(r, "id"), dispatch.UpdatePause)
}

func (h *Handlers) apiResumeMission(w http.ResponseWriter, r *http.Request) {
	h.updateMission(w, chi.URLParam(r, "id"), dispatch.UpdateResume)
}

func (h *Handlers) updateMission(w http.ResponseWriter, id, update string) {
	if err := h.engine.UpdateMission(id, update); err != nil {
		h.jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	h.jsonOK(w, map[string]string{"missionId": id, "update": update})
}

func (h *Handlers) apiAbortMission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.engine.CancelMission(id); err != nil {
		h.jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	h.jsonOK(w, map[string]string{"missionId": id, "status": "aborting"})
}

func (h *Handlers) apiListRobots(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, h.engine.RobotState().All())
}

func (h *Handlers) apiListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.engine.Flowcore().ListJobs(h.engine.AppConfig().Missions.Namekey)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}
	h.jsonOK(w, jobs)
}

func (h *Handlers) apiJobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, err := h.engine.Tracker().GetJobState(id)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}
	h.jsonOK(w, state)
}
