package www

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"

	"missiond/engine"
)

type Handlers struct {
	engine   *engine.Engine
	sessions *sessions.CookieStore
	eventHub *EventHub
}

func NewRouter(eng *engine.Engine) (http.Handler, func()) {
	hub := NewEventHub()
	hub.Start()
	hub.SetupEngineListeners(eng)

	h := &Handlers{
		engine:   eng,
		sessions: newSessionStore(eng.AppConfig().Web.SessionSecret),
		eventHub: hub,
	}

	h.ensureDefaultAdmin(eng.DB())

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// SSE
	r.Get("/events", hub.SSEHandler)

	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)

	// Read-only API, no auth required
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.apiHealthCheck)
		r.Get("/missions", h.apiListMissions)
		r.Get("/missions/{id}", h.apiGetMission)
		r.Get("/robots", h.apiListRobots)
		r.Get("/jobs", h.apiListJobs)
		r.Get("/jobs/{id}", h.apiJobStatus)
	})

	// Mutating API requires a session
	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Post("/api/missions", h.apiSubmitMission)
		r.Post("/api/missions/{id}/pause", h.apiPauseMission)
		r.Post("/api/missions/{id}/resume", h.apiResumeMission)
		r.Post("/api/missions/{id}/abort", h.apiAbortMission)
	})

	stopFn := func() {
		hub.Stop()
	}

	return r, stopFn
}
