// Package clock supplies the current time in epoch milliseconds. Production
// code uses System; tests inject a Fixed clock, and the HTTP layer may attach
// a per-request override when test mode is switched on.
package clock

import (
	"context"
	"sync/atomic"
	"time"
)

type Clock interface {
	NowMs() int64
}

type System struct{}

func (System) NowMs() int64 { return time.Now().UnixMilli() }

// Fixed is a manually driven clock, safe for concurrent use.
type Fixed struct {
	ms atomic.Int64
}

func NewFixed(ms int64) *Fixed {
	f := &Fixed{}
	f.ms.Store(ms)
	return f
}
func (f *Fixed) NowMs() int64 { return f.ms.Load() }
func (f *Fixed) Set(ms int64) { f.ms.Store(ms) }
func (f *Fixed) Advance(d time.Duration) { f.ms.Add(d.Milliseconds()) }

type overrideKey struct{}

func WithOverride(ctx context.Context, ms int64) context.Context {
	return context.WithValue(ctx, overrideKey{}, ms)
}
func Override(ctx context.Context) (int64, bool) {
	ms, ok := ctx.Value(overrideKey{}).(int64)
	return ms, ok
}

// Resolve prefers a request-scoped override over c.
func Resolve(ctx context.Context, c Clock) int64 {
	if ms, ok := Override(ctx); ok {
		return ms
	}
	return c.NowMs()
}
