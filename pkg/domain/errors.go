package domain

import (
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrPasteNotFound      = NewErr("PASTE_NOT_FOUND", "paste not found", http.StatusNotFound)
	ErrInvalidContent     = NewErr("INVALID_CONTENT", "content must be non-empty", http.StatusBadRequest)
	ErrInvalidTTL         = NewErr("INVALID_TTL", "ttl_seconds must be >= 1", http.StatusBadRequest)
	ErrInvalidMaxViews    = NewErr("INVALID_MAX_VIEWS", "max_views must be >= 1", http.StatusBadRequest)
	ErrPasteTooLarge      = NewErr("PASTE_TOO_LARGE", "paste too large", http.StatusBadRequest)
	ErrInvalidRequest     = NewErr("INVALID_REQUEST", "invalid request", http.StatusBadRequest)
	ErrStorageUnavailable = NewErr("STORAGE_UNAVAILABLE", "storage unavailable", http.StatusServiceUnavailable)
	ErrConflict           = NewErr("CONFLICT", "too much contention, retry later", http.StatusServiceUnavailable)
	ErrShuttingDown       = NewErr("SHUTTING_DOWN", "service shutting down", http.StatusServiceUnavailable)
	ErrDataCorruption     = NewErr("DATA_CORRUPTION", "stored paste is corrupt", http.StatusInternalServerError)
	ErrInternalServer     = NewErr("INTERNAL_ERROR", "internal error", http.StatusInternalServerError)
	ErrIDGenerationFailed = NewErr("ID_GENERATION_FAILED", "id generation failed", http.StatusInternalServerError)
)

type Err struct {
	Code   string `json:"code"`
	Msg    string `json:"message"`
	Status int    `json:"-"`
}

func (e *Err) Error() string { return e.Msg }
func NewErr(code, msg string, status int) *Err {
	return &Err{Code: code, Msg: msg, Status: status}
}

// IsValidation reports whether err is a client input fault.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidContent) ||
		errors.Is(err, ErrInvalidTTL) ||
		errors.Is(err, ErrInvalidMaxViews) ||
		errors.Is(err, ErrPasteTooLarge)
}

type NotFoundReason string

const (
	ReasonAbsent        NotFoundReason = "absent"
	ReasonExpired       NotFoundReason = "expired"
	ReasonLimitExceeded NotFoundReason = "limit_exceeded"
)

// NotFoundErr carries the internal reason behind a not-found answer. It
// unwraps to ErrPasteNotFound so callers only ever see one public kind.
type NotFoundErr struct {
	Reason NotFoundReason
}

func (e *NotFoundErr) Error() string { return "paste not found (" + string(e.Reason) + ")" }
func (e *NotFoundErr) Unwrap() error { return ErrPasteNotFound }
func NotFound(reason NotFoundReason) error {
	return &NotFoundErr{Reason: reason}
}
func ReasonOf(err error) (NotFoundReason, bool) {
	var nf *NotFoundErr
	if errors.As(err, &nf) {
		return nf.Reason, true
	}
	return "", false
}

// KindErr binds a lower-level cause to one of the domain kinds above without
// losing the cause for logging.
type KindErr struct {
	Kind  *Err
	Op    string
	Cause error
}

func (e *KindErr) Error() string {
	if e.Cause == nil {
		return e.Op + ": " + e.Kind.Msg
	}
	return e.Op + ": " + e.Kind.Msg + ": " + e.Cause.Error()
}
func (e *KindErr) Unwrap() error { return e.Cause }
func (e *KindErr) Is(target error) bool {
	return target == e.Kind
}
func (e *KindErr) As(target interface{}) bool {
	if p, ok := target.(**Err); ok {
		*p = e.Kind
		return true
	}
	return false
}
func StorageErr(op string, cause error) error {
	return &KindErr{Kind: ErrStorageUnavailable, Op: op, Cause: cause}
}
func CorruptionErr(id string, cause error) error {
	return &KindErr{Kind: ErrDataCorruption, Op: "decode paste " + id, Cause: cause}
}

type ErrResp struct {
	Error ErrDetail `json:"error"`
}
type ErrDetail struct {
	Code string                 `json:"code"`
	Msg  string                 `json:"message"`
	Meta map[string]interface{} `json:"meta,omitempty"`
}

func ToResp(err error) ErrResp {
	var e *Err
	if errors.As(err, &e) {
		return ErrResp{Error: ErrDetail{Code: e.Code, Msg: e.Msg}}
	}
	return ErrResp{Error: ErrDetail{Code: "INTERNAL_ERROR", Msg: "internal error"}}
}
func Status(err error) int {
	var e *Err
	if errors.As(err, &e) {
		return e.Status
	}
	return http.StatusInternalServerError
}
