// Package broadcast forwards room events to whatever live transport is
// installed. Delivery is best effort: the database stays the source of truth.
package broadcast

import (
	"errors"
	"sync"
)

const (
	TypeMessage       = "message"
	TypeTriadStarted  = "triad_started"
	TypeTriadLocked   = "triad_locked"
	TypeTriadFinished = "triad_finished"
)

var ErrNotReady = errors.New("broadcast hub not ready")

// Sender delivers one event to every listener of a room.
type Sender interface {
	SendToRoom(roomID, msgType string, data any) error
}

var (
	mu     sync.RWMutex
	sender Sender
	warmup func()
)

// SetSender installs the live transport. nil uninstalls it.
func SetSender(s Sender) {
	mu.Lock()
	sender = s
	mu.Unlock()
}

// SetWarmup registers what Warmup runs.
func SetWarmup(fn func()) {
	mu.Lock()
	warmup = fn
	mu.Unlock()
}

// ToRoom sends an event to a room. It returns ErrNotReady when no transport
// is installed.
func ToRoom(roomID, msgType string, data any) error {
	mu.RLock()
	s := sender
	mu.RUnlock()
	if s == nil {
		return ErrNotReady
	}
	return s.SendToRoom(roomID, msgType, data)
}

// Warmup asks the transport to get ready. It never blocks on delivery.
func Warmup() {
	mu.RLock()
	fn := warmup
	mu.RUnlock()
	if fn != nil {
		go fn()
	}
}
