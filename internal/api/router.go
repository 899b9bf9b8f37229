package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/vdavid/listsweep/internal/auth"
)

// Handlers groups everything NewRouter mounts.
type Handlers struct {
	Config    *ConfigHandler
	Folders   *FoldersHandler
	Jobs      *JobsHandler
	WebSocket *WebSocketHandler
}

// NewRouter mounts the API under /api/v1. A non-empty token guards every route except the root.
func NewRouter(h Handlers, token string, logger logrus.FieldLogger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", handleRoot)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.RequireToken(token, logger))

		// The websocket route must not be wrapped in a timeout.
		r.Get("/ws", h.WebSocket.Handle)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/config", h.Config.GetConfig)
			r.Post("/config", h.Config.PostConfig)
			r.Post("/test-connection", h.Config.TestConnection)
			r.Get("/folders", h.Folders.GetFolders)

			r.Post("/scan", h.Jobs.StartScan)
			r.Get("/scan/status", h.Jobs.ScanStatus)
			r.Get("/newsletters", h.Jobs.Newsletters)
			r.Post("/unsubscribe", h.Jobs.StartUnsubscribe)
			r.Get("/unsubscribe/status", h.Jobs.UnsubscribeStatus)
			r.Get("/ledger", h.Jobs.Ledger)
		})
	})

	return r
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "listsweep API is running")
}
