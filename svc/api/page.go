package api

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"pastelite/pkg/domain"
	"pastelite/svc/util"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
	"github.com/skip2/go-qrcode"
)

const pageCSP = "default-src 'none'; style-src 'unsafe-inline'; img-src 'self'; frame-ancestors 'none';"

//go:embed templates/*.tmpl
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

type viewPageData struct {
	Content  string
	ShareURL string
	QRPath   string
}
type errorPageData struct {
	Heading string
	Message string
}

// ViewPage renders a paste for the browser. It peeks, so loading the page
// never charges a view.
func (h *Hdl) ViewPage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.paste.Peek(r.Context(), id)
	if err != nil {
		h.errorPage(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	render(w, r, http.StatusOK, "Paste "+id, "view-body", viewPageData{
		Content:  res.Content,
		ShareURL: h.shareURL(r, id),
		QRPath:   "/p/" + id + "/qr",
	})
}
func (h *Hdl) QRCode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.paste.Peek(r.Context(), id); err != nil {
		h.errorPage(w, r, err)
		return
	}
	png, err := qrcode.Encode(h.shareURL(r, id), qrcode.Medium, 256)
	if err != nil {
		h.errorPage(w, r, errors.Wrap(err, "encode qr"))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(png)
}
func (h *Hdl) errorPage(w http.ResponseWriter, r *http.Request, err error) {
	status := domain.Status(err)
	data := errorPageData{Heading: "Paste unavailable", Message: "This paste does not exist, has expired, or has run out of views."}
	log := hlog.FromRequest(r)
	if status == http.StatusNotFound {
		reason, _ := domain.ReasonOf(err)
		log.Info().Str("paste_id", chi.URLParam(r, "id")).Str("reason", string(reason)).Msg("paste not found")
	} else {
		log.Error().Err(err).Str("request_id", util.GetRequestID(r.Context())).Msg("page request failed")
		data = errorPageData{Heading: "Something went wrong", Message: "The paste could not be loaded right now. Please try again later."}
	}
	render(w, r, status, data.Heading, "error-body", data)
}
func render(w http.ResponseWriter, r *http.Request, status int, title, body string, data any) {
	bodyBuf := &bytes.Buffer{}
	if err := pages.ExecuteTemplate(bodyBuf, body, data); err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("template", body).Msg("render template")
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	layoutBuf := &bytes.Buffer{}
	if err := pages.ExecuteTemplate(layoutBuf, "layout", struct {
		Title string
		Body  template.HTML
	}{
		Title: title,
		Body:  template.HTML(bodyBuf.String()),
	}); err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("template", "layout").Msg("render template")
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Security-Policy", pageCSP)
	w.WriteHeader(status)
	layoutBuf.WriteTo(w)
}
