package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"pastelite/cfg"
	"pastelite/pkg/domain"
	"pastelite/svc/svc"
	"pastelite/svc/util"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
)

// JSON escaping can grow the body well past the raw content size.
const bodyOverhead = 4 * 1024

type Hdl struct {
	paste *svc.Paste
	cfg   *cfg.Cfg
}
type CreateReq struct {
	Content    string `json:"content"`
	TTLSeconds *int64 `json:"ttl_seconds"`
	MaxViews   *int64 `json:"max_views"`
}
type CreateResp struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (h *Hdl) Home(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{"message": "Pastebin Lite API"})
}
func (h *Hdl) CreatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	if contentType := r.Header.Get("Content-Type"); contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err != nil || mediaType != "application/json" {
			log.Warn().
				Str("content_type", contentType).
				Str("request_id", requestID).
				Msg("invalid Content-Type header")
			w.WriteHeader(http.StatusUnsupportedMediaType)
			json.NewEncoder(w).Encode(map[string]string{
				"error":      "expected Content-Type: application/json",
				"request_id": requestID,
			})
			return
		}
	}
	limit := h.cfg.MaxPasteSize*2 + bodyOverhead
	if r.ContentLength > limit {
		log.Warn().Int64("content_length", r.ContentLength).Msg("Content-Length exceeds maximum")
		writeErr(w, r, domain.ErrPasteTooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	var req CreateReq
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			log.Warn().Int64("limit", limit).Msg("request body too large")
			writeErr(w, r, domain.ErrPasteTooLarge)
		case err == io.EOF:
			log.Warn().Msg("empty request body")
			writeErr(w, r, domain.ErrInvalidRequest)
		default:
			log.Warn().Err(err).Msg("invalid request")
			writeErr(w, r, domain.ErrInvalidRequest)
		}
		return
	}
	if dec.More() {
		log.Warn().Msg("trailing data after request body")
		writeErr(w, r, domain.ErrInvalidRequest)
		return
	}
	paste, err := h.paste.Create(r.Context(), domain.CreateParams{
		Content:    req.Content,
		TTLSeconds: req.TTLSeconds,
		MaxViews:   req.MaxViews,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	log.Info().
		Str("paste_id", paste.ID).
		Bool("ttl", req.TTLSeconds != nil).
		Bool("max_views", req.MaxViews != nil).
		Msg("paste created")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(CreateResp{
		ID:  paste.ID,
		URL: h.shareURL(r, paste.ID),
	})
}
func (h *Hdl) GetPaste(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.paste.Consume(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	hlog.FromRequest(r).Info().
		Str("paste_id", id).
		Str("client_ip", util.RedactIP(r.RemoteAddr)).
		Msg("paste retrieved")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(res)
}

// shareURL prefers BASE_URL and otherwise rebuilds the origin from the request.
func (h *Hdl) shareURL(r *http.Request, id string) string {
	if h.cfg.BaseURL != "" {
		return strings.TrimSuffix(h.cfg.BaseURL, "/") + "/p/" + id
	}
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	host := r.Host
	if host == "" {
		host = "localhost"
	}
	return scheme + "://" + host + "/p/" + id
}

// writeErr maps err onto the JSON error body. Not-found reasons stay in the
// log; clients only ever see one generic message.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	requestID := util.GetRequestID(r.Context())
	log := hlog.FromRequest(r)
	statusCode := domain.Status(err)
	detail := domain.ToResp(err).Error
	switch {
	case statusCode == http.StatusNotFound:
		reason, _ := domain.ReasonOf(err)
		log.Info().
			Str("paste_id", chi.URLParam(r, "id")).
			Str("reason", string(reason)).
			Str("request_id", requestID).
			Msg("paste not found")
	case statusCode >= http.StatusInternalServerError:
		log.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
		if statusCode == http.StatusInternalServerError {
			detail = domain.ToResp(domain.ErrInternalServer).Error
			detail.Msg = "internal server error"
		}
	default:
		log.Warn().Err(err).Str("request_id", requestID).Msg("request rejected")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error":      detail.Msg,
		"code":       detail.Code,
		"request_id": requestID,
	})
}
