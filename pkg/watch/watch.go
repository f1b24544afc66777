// Copyright 2025 The Devac Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package watch implements a debounced, ignore-aware file watcher over one
// package directory: three primitive events (add, change, unlink) and an
// aggregated batch event per debounce window.
package watch

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/devac-project/devac/internal/errs"
)

// EventKind identifies one primitive filesystem change.
type EventKind string

const (
	EventAdd    EventKind = "add"
	EventChange EventKind = "change"
	EventUnlink EventKind = "unlink"
)

// Event is one primitive change.
type Event struct {
	Kind EventKind
	Path string
}

// Batch is the debounced window of primitives delivered alongside the
// individual Event callbacks.
type Batch struct {
	Events []Event
}

// Stats answers get_stats().
type Stats struct {
	IsWatching      bool
	EventsProcessed int64
	LastEventTime   time.Time
}

// defaultIgnoreDirs are always excluded regardless of caller-supplied
// IgnorePatterns, matching spec.md §4.7.
var defaultIgnoreDirs = map[string]bool{
	"node_modules": true, ".devac": true, "dist": true,
	".git": true, "build": true, "coverage": true,
}

// defaultExtensions is the default matched-file set per spec.md §4.7.
var defaultExtensions = []string{
	".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs", ".cs", ".py", ".go",
}

// Options configures a Watcher. Zero value is not usable; use
// DefaultOptions and override fields as needed.
type Options struct {
	DebounceMs     int
	Extensions     []string
	IgnorePatterns []string
	IgnoreInitial  bool
}

// DefaultOptions returns spec.md §4.7's defaults.
func DefaultOptions() Options {
	return Options{
		DebounceMs:    100,
		Extensions:    append([]string(nil), defaultExtensions...),
		IgnoreInitial: true,
	}
}

// Watcher watches one package directory (recursively) and reports add,
// change, and unlink events, debounced into batches.
//
// Scheduling model: a single internal goroutine drains fsnotify events and
// fires debounce timers; registered handlers run to completion on that
// goroutine before the next event is delivered, matching spec.md §4.7 —
// there is no per-handler concurrency and no backpressure signal, a slow
// handler simply delays visibility of the next event. The one exception is
// the initial scan (IgnoreInitial false), whose add events are delivered
// from Start on the caller's goroutine before that goroutine starts.
type Watcher struct {
	root string
	opts Options

	fsw *fsnotify.Watcher

	eventHandlers []func(Event)
	batchHandlers []func(Batch)

	pending map[string]EventKind // path -> most recent kind this window; an add followed by writes stays an add

	statsMu         sync.Mutex
	eventsProcessed int64
	lastEventTime   time.Time
	isWatching      bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New builds a Watcher over root. It does not start watching until Start
// is called.
func New(root string, opts Options) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errs.NewIOError("Could not create file watcher", err.Error(), root, err)
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = append([]string(nil), defaultExtensions...)
	}
	if opts.DebounceMs <= 0 {
		opts.DebounceMs = 100
	}
	return &Watcher{
		root:    root,
		opts:    opts,
		fsw:     fsw,
		pending: make(map[string]EventKind),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// OnEvent registers a handler invoked for every primitive event, in
// addition to any batch handlers.
func (w *Watcher) OnEvent(fn func(Event)) {
	w.eventHandlers = append(w.eventHandlers, fn)
}

// OnBatch registers a handler invoked once per debounce window with every
// primitive observed in that window.
func (w *Watcher) OnBatch(fn func(Batch)) {
	w.batchHandlers = append(w.batchHandlers, fn)
}

// Start adds root's directory tree to the underlying fsnotify watcher,
// optionally emits an initial add for every already-present matching file
// (when IgnoreInitial is false), and begins the debounce loop.
func (w *Watcher) Start() error {
	if err := w.addTree(w.root); err != nil {
		return err
	}

	if !w.opts.IgnoreInitial {
		w.emitInitialScan()
	}

	w.statsMu.Lock()
	w.isWatching = true
	w.statsMu.Unlock()

	go w.run()
	return nil
}

// Stop is idempotent: it cancels any pending debounce timer and stops the
// internal goroutine before returning, so no event fires after Stop
// returns.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		<-w.doneCh
		_ = w.fsw.Close()
		w.statsMu.Lock()
		w.isWatching = false
		w.statsMu.Unlock()
	})
	return nil
}

// Stats implements get_stats().
func (w *Watcher) Stats() Stats {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return Stats{IsWatching: w.isWatching, EventsProcessed: w.eventsProcessed, LastEventTime: w.lastEventTime}
}

func (w *Watcher) addTree(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsPermission(err) {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if w.isIgnored(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil && os.IsPermission(err) {
			return filepath.SkipDir
		}
		return nil
	})
}

func (w *Watcher) emitInitialScan() {
	_ = filepath.Walk(w.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if w.isIgnored(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if w.isIgnored(path) || !w.matchesExtension(path) {
			return nil
		}
		w.deliver(Event{Kind: EventAdd, Path: path})
		return nil
	})
}

// isIgnored reports whether path should never surface events, including
// during the initial scan, per spec.md §4.7.
func (w *Watcher) isIgnored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		rel = path
	}
	base := filepath.Base(path)
	if defaultIgnoreDirs[base] {
		return true
	}
	if strings.HasSuffix(path, ".d.ts") {
		return true
	}
	for _, pat := range w.opts.IgnorePatterns {
		if pat == "" {
			continue
		}
		if strings.Contains(rel, pat) || strings.Contains(base, pat) {
			return true
		}
	}
	return false
}

func (w *Watcher) matchesExtension(path string) bool {
	ext := filepath.Ext(path)
	for _, e := range w.opts.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	var timer *time.Timer
	var timerC <-chan time.Time
	debounce := time.Duration(w.opts.DebounceMs) * time.Millisecond

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) && !w.isIgnored(ev.Name) {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					_ = w.addTree(ev.Name)
					continue
				}
			}
			kind, ok := classify(ev)
			if !ok || w.isIgnored(ev.Name) || (kind != EventUnlink && !w.matchesExtension(ev.Name)) {
				continue
			}
			if prev, seen := w.pending[ev.Name]; !seen || prev != EventAdd || kind != EventChange {
				w.pending[ev.Name] = kind
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(debounce)
			timerC = timer.C

		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}

		case <-timerC:
			timerC = nil
			w.flush()

		case <-w.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// flush emits every pending primitive, then the aggregated batch.
func (w *Watcher) flush() {
	if len(w.pending) == 0 {
		return
	}
	events := make([]Event, 0, len(w.pending))
	for path, kind := range w.pending {
		events = append(events, Event{Kind: kind, Path: path})
	}
	w.pending = make(map[string]EventKind)

	for _, ev := range events {
		w.deliver(ev)
	}
	for _, h := range w.batchHandlers {
		h(Batch{Events: events})
	}
}

func (w *Watcher) deliver(ev Event) {
	w.statsMu.Lock()
	w.eventsProcessed++
	w.lastEventTime = time.Now()
	w.statsMu.Unlock()

	for _, h := range w.eventHandlers {
		h(ev)
	}
}

func classify(ev fsnotify.Event) (EventKind, bool) {
	switch {
	case ev.Has(fsnotify.Create):
		return EventAdd, true
	case ev.Has(fsnotify.Write):
		return EventChange, true
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		return EventUnlink, true
	default:
		return "", false
	}
}
