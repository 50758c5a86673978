package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"deepwork/adapters/excel"
	"deepwork/app"
	"deepwork/internal"
)

// App is the HTTP surface of the session service
type App struct {
	router   *chi.Mux
	sessions *app.SessionService
	insights *app.InsightsService
	exporter *excel.HistoryExporter
	logger   *internal.Logger
}

// NewApp creates the HTTP application
func NewApp(sessions *app.SessionService, insights *app.InsightsService, exporter *excel.HistoryExporter, logger *internal.Logger) *App {
	a := &App{
		router:   chi.NewRouter(),
		sessions: sessions,
		insights: insights,
		exporter: exporter,
		logger:   logger.Component("api"),
	}

	a.setupMiddleware()
	a.setupRoutes()

	return a
}

// setupMiddleware configures HTTP middleware
func (a *App) setupMiddleware() {
	a.router.Use(middleware.RequestID)
	a.router.Use(middleware.Logger)
	a.router.Use(middleware.Recoverer)
}

// setupRoutes configures the application routes
func (a *App) setupRoutes() {
	a.router.Get("/health", a.handleHealth)

	// All session routes require a resolved identity
	a.router.Group(func(r chi.Router) {
		r.Use(RequireUser)

		r.Post("/api/sessions/start", a.handleStart)
		r.Post("/api/sessions/heartbeat", a.handleHeartbeat)
		r.Post("/api/sessions/end", a.handleEnd)
		r.Get("/api/sessions/active", a.handleActive)
		r.Get("/api/sessions/history", a.handleHistory)
		r.Get("/api/sessions/export", a.handleExport)

		r.Get("/api/stats/daily", a.handleDailyStats)
		r.Get("/api/stats/insights", a.handleInsights)
	})
}

// Router exposes the configured handler for the HTTP server
func (a *App) Router() http.Handler {
	return a.router
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
