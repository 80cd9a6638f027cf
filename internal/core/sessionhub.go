package core

import (
	"sync"
	"time"
)

// SessionEvent is one live update from a counting session, fanned out
// to everyone watching that session.
type SessionEvent struct {
	SessionID int64     `json:"session_id"`
	Type      string    `json:"type"`
	At        time.Time `json:"at"`
	Payload   any       `json:"payload,omitempty"`
}

const subscriberBuffer = 16

// SessionHub fans session events out to in-process subscribers. It
// never blocks a publisher: a subscriber that falls behind loses
// events, which is acceptable because watchers re-fetch the full line
// list on reconnect.
type SessionHub struct {
	mu   sync.RWMutex
	subs map[int64]map[chan SessionEvent]struct{}
}

func NewSessionHub() *SessionHub {
	return &SessionHub{subs: make(map[int64]map[chan SessionEvent]struct{})}
}

// Subscribe registers a watcher for one session. The returned cancel
// func must be called exactly once; after it returns the channel is
// closed.
func (h *SessionHub) Subscribe(sessionID int64) (<-chan SessionEvent, func()) {
	ch := make(chan SessionEvent, subscriberBuffer)

	h.mu.Lock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[chan SessionEvent]struct{})
		h.subs[sessionID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[sessionID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.subs, sessionID)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers ev to current subscribers of ev.SessionID. Slow
// subscribers are skipped rather than waited on.
func (h *SessionHub) Publish(ev SessionEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[ev.SessionID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Watchers reports how many subscribers a session currently has.
func (h *SessionHub) Watchers(sessionID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}
