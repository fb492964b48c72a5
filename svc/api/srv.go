package api

import (
	"context"
	"net/http"
	"pastelite/cfg"
	"pastelite/svc/svc"
	"pastelite/svc/util"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
)

type Server struct {
	router     *chi.Mux
	paste      *svc.Paste
	cfg        *cfg.Cfg
	httpServer *http.Server
}

func NewServer(c *cfg.Cfg, p *svc.Paste) *Server {
	r := chi.NewRouter()
	mw := NewMw(c)
	s := &Server{
		router: r,
		paste:  p,
		cfg:    c,
	}
	hdl := &Hdl{paste: p, cfg: c}

	r.Use(mw.RequestID)
	r.Use(mw.Recoverer)
	r.Use(mw.Metrics)
	r.Use(mw.CORS)
	r.Handle("/metrics", mw.BasicAuthMetrics(promhttp.Handler()))

	r.Group(func(r chi.Router) {
		r.Use(hlog.NewHandler(util.GetLogger()))
		r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(req).Info().
				Str("method", req.Method).
				Str("url", req.URL.Path).
				Int("status", status).
				Int("size", size).
				Dur("duration", dur).
				Str("client_ip", util.RedactIP(req.RemoteAddr)).
				Str("request_id", util.GetRequestID(req.Context())).
				Msg("http request")
		}))
		r.Use(mw.ContextTimeout)
		r.Use(mw.TestClock)
		r.Use(mw.SecurityHeaders)

		r.Group(func(r chi.Router) {
			r.Use(mw.JSONContentType)
			r.Get("/", hdl.Home)
			r.Get("/api/healthz", s.Healthz)
			r.Post("/api/pastes", hdl.CreatePaste)
			r.Get("/api/pastes/{id}", hdl.GetPaste)
		})
		r.Get("/p/{id}", hdl.ViewPage)
		r.Get("/p/{id}/qr", hdl.QRCode)
	})

	s.httpServer = &http.Server{
		Addr:           ":" + c.Port,
		Handler:        r,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 256 * 1024,
	}
	return s
}
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
func (s *Server) Start() error {
	util.Info().Str("port", s.cfg.Port).Msg("starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Error().Err(err).Str("port", s.cfg.Port).Msg("server failed to start")
		return err
	}
	return nil
}
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
