// Package slogutil provides the small amount of slog plumbing this node's
// packages share: a per-facility debug level toggled by the LCP_TRACE
// environment variable, and an Error attribute helper. It mirrors the
// shape of the teacher's internal/slogutil, trimmed to what a single-binary
// node needs (no log recorder, no GUI-facing formatting).
package slogutil

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Error wraps err as a slog attribute named "err".
func Error(err error) slog.Attr {
	return slog.Any("err", err)
}

type levelTracker struct {
	mu      sync.RWMutex
	debug   map[string]bool
	allFlag bool
}

var tracker = newLevelTracker(os.Getenv("LCP_TRACE"))

func newLevelTracker(env string) *levelTracker {
	t := &levelTracker{debug: make(map[string]bool)}
	for _, pkg := range strings.Split(env, ",") {
		pkg = strings.TrimSpace(pkg)
		if pkg == "" {
			continue
		}
		if pkg == "all" {
			t.allFlag = true
			continue
		}
		t.debug[pkg] = true
	}
	return t
}

func (t *levelTracker) isDebug(facility string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.allFlag || t.debug[facility]
}

// Facility returns a *slog.Logger tagged with the given facility name,
// whose effective level is Debug when LCP_TRACE contains that name or the
// literal "all", and Info otherwise. Call once per package, at init time,
// following the teacher's "var l = ...NewFacility(...)" idiom.
func Facility(name string) *slog.Logger {
	base := slog.Default().With(slog.String("facility", name))
	if tracker.isDebug(name) {
		return base
	}
	return slog.New(&levelFilterHandler{
		next:     base.Handler(),
		minLevel: slog.LevelInfo,
	})
}

// levelFilterHandler drops records below minLevel; everything else passes
// through to next unchanged.
type levelFilterHandler struct {
	next     slog.Handler
	minLevel slog.Level
}

func (h *levelFilterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.minLevel && h.next.Enabled(ctx, level)
}

func (h *levelFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.next.Handle(ctx, r)
}

func (h *levelFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelFilterHandler{next: h.next.WithAttrs(attrs), minLevel: h.minLevel}
}

func (h *levelFilterHandler) WithGroup(name string) slog.Handler {
	return &levelFilterHandler{next: h.next.WithGroup(name), minLevel: h.minLevel}
}
