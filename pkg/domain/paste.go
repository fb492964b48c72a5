package domain

import (
	"encoding/json"
	"math"
	"time"

	"github.com/pkg/errors"
)

const isoLayout = "2006-01-02T15:04:05"

// MaxTTLSeconds is the largest ttl a time.Duration can carry.
const MaxTTLSeconds = int64(math.MaxInt64 / time.Second)

// Paste is the persisted record. ID travels in the storage key, not the payload.
type Paste struct {
	ID        string `json:"-"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt *int64 `json:"expires_at"`
	MaxViews  *int64 `json:"max_views"`
	Views     int64  `json:"views"`
}
type CreateParams struct {
	Content    string
	TTLSeconds *int64
	MaxViews   *int64
}
type ConsumeResult struct {
	Content        string  `json:"content"`
	RemainingViews *int64  `json:"remaining_views"`
	ExpiresAt      *string `json:"expires_at"`
}
type PeekResult struct {
	Content string `json:"content"`
}

// TTLFits reports whether ttlSeconds is positive and both nowMs+ttl and the
// native store deadline stay representable.
func TTLFits(nowMs, ttlSeconds int64) bool {
	if ttlSeconds < 1 || ttlSeconds > MaxTTLSeconds {
		return false
	}
	return nowMs <= math.MaxInt64-ttlSeconds*1000
}
func NewPaste(id, content string, nowMs int64, ttlSeconds, maxViews *int64) *Paste {
	p := &Paste{
		ID:        id,
		Content:   content,
		CreatedAt: nowMs,
		Views:     0,
	}
	if ttlSeconds != nil {
		exp := nowMs + *ttlSeconds*1000
		p.ExpiresAt = &exp
	}
	if maxViews != nil {
		mv := *maxViews
		p.MaxViews = &mv
	}
	return p
}

// Expired reports whether nowMs is strictly past expires_at.
func (p *Paste) Expired(nowMs int64) bool {
	return p.ExpiresAt != nil && nowMs > *p.ExpiresAt
}
func (p *Paste) Exhausted() bool {
	return p.MaxViews != nil && p.Views >= *p.MaxViews
}
func (p *Paste) RemainingViews() *int64 {
	if p.MaxViews == nil {
		return nil
	}
	r := *p.MaxViews - p.Views
	return &r
}
func (p *Paste) ExpiresAtISO() *string {
	if p.ExpiresAt == nil {
		return nil
	}
	s := FormatMillisISO(*p.ExpiresAt)
	return &s
}

// FormatMillisISO renders a millisecond epoch as a UTC instant with a literal
// trailing Z. Whole seconds print without a fraction, otherwise microsecond
// precision is used.
func FormatMillisISO(ms int64) string {
	t := time.UnixMilli(ms).UTC()
	if ms%1000 == 0 {
		return t.Format(isoLayout) + "Z"
	}
	return t.Format(isoLayout+".000000") + "Z"
}
func (p *Paste) Marshal() ([]byte, error) {
	return json.Marshal(p)
}
// storedPaste mirrors Paste with every required field as a pointer so a
// missing field can be told apart from a zero one.
type storedPaste struct {
	Content   *string `json:"content"`
	CreatedAt *int64  `json:"created_at"`
	ExpiresAt *int64  `json:"expires_at"`
	MaxViews  *int64  `json:"max_views"`
	Views     *int64  `json:"views"`
}

func UnmarshalPaste(id string, data []byte) (*Paste, error) {
	var raw storedPaste
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, CorruptionErr(id, err)
	}
	switch {
	case raw.Content == nil || raw.CreatedAt == nil || raw.Views == nil:
		return nil, CorruptionErr(id, errors.New("missing required field"))
	case *raw.Content == "":
		return nil, CorruptionErr(id, errors.New("empty content"))
	case *raw.Views < 0:
		return nil, CorruptionErr(id, errors.New("negative views"))
	case raw.MaxViews != nil && *raw.MaxViews < 1:
		return nil, CorruptionErr(id, errors.New("max_views below 1"))
	}
	return &Paste{
		ID:        id,
		Content:   *raw.Content,
		CreatedAt: *raw.CreatedAt,
		ExpiresAt: raw.ExpiresAt,
		MaxViews:  raw.MaxViews,
		Views:     *raw.Views,
	}, nil
}
func (p *Paste) Clone() *Paste {
	cp := *p
	if p.ExpiresAt != nil {
		v := *p.ExpiresAt
		cp.ExpiresAt = &v
	}
	if p.MaxViews != nil {
		v := *p.MaxViews
		cp.MaxViews = &v
	}
	return &cp
}
