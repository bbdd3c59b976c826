// Package admin serves the supervisor state over HTTP.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/lancer-kit/keeper"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Supervisor is the part of `keeper.Supervisor` the admin API works with.
type Supervisor interface {
	Info(app keeper.AppInfo) keeper.StateInfo
	Start() error
	Stop() error
}

// Options of the admin router.
type Options struct {
	App keeper.AppInfo
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
	// AllowControl enables the POST /worker/start and /worker/stop endpoints.
	AllowControl bool
	Logger       *logrus.Entry
}

// NewRouter returns the admin API handler:
//
//	GET  /status        StateInfo as JSON
//	GET  /health        200 while the worker is Running, 503 otherwise
//	GET  /metrics       prometheus metrics
//	POST /worker/start  starts the worker
//	POST /worker/stop   stops the worker
func NewRouter(sup Supervisor, opts Options) http.Handler {
	h := &handler{sup: sup, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/status", h.status)
	r.Get("/health", h.health)
	if opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	if opts.AllowControl {
		r.Route("/worker", func(r chi.Router) {
			r.Post("/start", h.control(sup.Start, "start"))
			r.Post("/stop", h.control(sup.Stop, "stop"))
		})
	}
	return r
}

type handler struct {
	sup  Supervisor
	opts Options
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, h.sup.Info(h.opts.App))
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	info := h.sup.Info(h.opts.App)
	code := http.StatusOK
	if !info.IsRunning() {
		code = http.StatusServiceUnavailable
	}
	h.render(w, code, map[string]interface{}{"state": info.State})
}

func (h *handler) control(action func() error, name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := action(); err != nil {
			if h.opts.Logger != nil {
				h.opts.Logger.WithError(err).WithField("action", name).Warn("worker control failed")
			}
			h.render(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		h.render(w, http.StatusOK, h.sup.Info(h.opts.App))
	}
}

func (h *handler) render(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil && h.opts.Logger != nil {
		h.opts.Logger.WithError(err).Error("unable to write response")
	}
}
