package api

import (
	"context"
	"encoding/json"
	"net/http"
	"pastelite/svc/util"
	"time"
)

type HealthResponse struct {
	OK bool `json:"ok"`
}

// Healthz reports store reachability. A failing store is reported in the body,
// never as a transport error.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	resp := HealthResponse{OK: true}
	if err := s.paste.Ping(ctx); err != nil {
		util.Error().Err(err).Msg("store health check failed")
		resp.OK = false
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
