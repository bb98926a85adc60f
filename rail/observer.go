// Copyright © 2025 Railbridge contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: rail/observer.go
// Summary: Peer activity observers: logging and counting.

package rail

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Observer receives peer activity notifications. Calls arrive on the
// compositor thread except OrderSent, which can also fire from the
// transport receive goroutine for inline replies.
type Observer interface {
	OrderSent(order string)
	RepaintCompleted(output string, windows int, elapsed time.Duration)
	WindowCreated(id uint32)
	WindowDestroyed(id uint32)
}

// LogObserver logs peer activity at debug level.
type LogObserver struct {
	log *zap.Logger
}

// NewLogObserver returns an observer that logs activity.
func NewLogObserver(log *zap.Logger) *LogObserver {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogObserver{log: log}
}

func (o *LogObserver) OrderSent(order string) {
	if o == nil || o.log == nil {
		return
	}
	o.log.Debug("order sent", zap.String("order", order))
}

func (o *LogObserver) RepaintCompleted(output string, windows int, elapsed time.Duration) {
	if o == nil || o.log == nil {
		return
	}
	o.log.Debug("repaint completed",
		zap.String("output", output),
		zap.Int("windows", windows),
		zap.Duration("elapsed", elapsed))
}

func (o *LogObserver) WindowCreated(id uint32) {
	if o == nil || o.log == nil {
		return
	}
	o.log.Debug("window tracked", zap.Uint32("window", id))
}

func (o *LogObserver) WindowDestroyed(id uint32) {
	if o == nil || o.log == nil {
		return
	}
	o.log.Debug("window untracked", zap.Uint32("window", id))
}

// CountingObserver tallies peer activity. Safe for concurrent use.
type CountingObserver struct {
	mu       sync.Mutex
	orders   map[string]int
	repaints int
	created  int
	removed  int
}

// NewCountingObserver returns an observer accumulating counters.
func NewCountingObserver() *CountingObserver {
	return &CountingObserver{orders: make(map[string]int)}
}

func (o *CountingObserver) OrderSent(order string) {
	o.mu.Lock()
	o.orders[order]++
	o.mu.Unlock()
}

func (o *CountingObserver) RepaintCompleted(string, int, time.Duration) {
	o.mu.Lock()
	o.repaints++
	o.mu.Unlock()
}

func (o *CountingObserver) WindowCreated(uint32) {
	o.mu.Lock()
	o.created++
	o.mu.Unlock()
}

func (o *CountingObserver) WindowDestroyed(uint32) {
	o.mu.Lock()
	o.removed++
	o.mu.Unlock()
}

// Orders returns a copy of the per-order send counts.
func (o *CountingObserver) Orders() map[string]int {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]int, len(o.orders))
	for k, v := range o.orders {
		out[k] = v
	}
	return out
}

// Repaints returns the number of completed repaints.
func (o *CountingObserver) Repaints() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.repaints
}

// Windows returns the created and destroyed window counts.
func (o *CountingObserver) Windows() (created, destroyed int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.created, o.removed
}
