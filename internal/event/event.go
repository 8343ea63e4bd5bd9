// Package event carries progress and status updates from the resolution
// stage to whoever displays them.
package event

import (
	"sync"

	"go.uber.org/zap"
)

// Sink receives progress-bar and status-message updates. Implementations
// must not block; updates are purely observational.
type Sink interface {
	Progress(current, total int64)
	Status(msg string)
}

// Nop discards all updates.
type Nop struct{}

func (Nop) Progress(int64, int64) {}
func (Nop) Status(string)         {}

// Multi fans out updates to several sinks.
type Multi []Sink

func (m Multi) Progress(current, total int64) {
	for _, s := range m {
		s.Progress(current, total)
	}
}

func (m Multi) Status(msg string) {
	for _, s := range m {
		s.Status(msg)
	}
}

// LogSink writes status messages at info level and every Every-th progress
// update at debug level.
type LogSink struct {
	Logger *zap.Logger
	Every  int64
}

func (s *LogSink) Progress(current, total int64) {
	every := s.Every
	if every <= 0 {
		every = 10000
	}
	if current == 0 || current%every != 0 && current != total {
		return
	}
	s.Logger.Debug("progress", zap.Int64("current", current), zap.Int64("total", total))
}

func (s *LogSink) Status(msg string) {
	s.Logger.Info(msg)
}

// ProgressUpdate is one recorded Progress call.
type ProgressUpdate struct {
	Current, Total int64
}

// Recorder keeps every update in memory. Safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	progress []ProgressUpdate
	status   []string
}

func (r *Recorder) Progress(current, total int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, ProgressUpdate{current, total})
}

func (r *Recorder) Status(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = append(r.status, msg)
}

// Statuses returns a copy of the recorded status messages.
func (r *Recorder) Statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.status...)
}

// ProgressUpdates returns a copy of the recorded progress updates.
func (r *Recorder) ProgressUpdates() []ProgressUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ProgressUpdate(nil), r.progress...)
}
