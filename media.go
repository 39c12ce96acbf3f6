package main

import (
	"errors"
	"log"
	"sync"
)

// ErrUnsupported is returned by backends that are not available on this platform
var ErrUnsupported = errors.New("backend not supported on this platform")

// EventKind identifies what a device event reports
type EventKind int

const (
	EventMetadataLoaded EventKind = iota // Value is the duration in seconds
	EventTimeUpdate                      // Value is the position in seconds
	EventEnded                           // the loaded resource played to its end
)

func (k EventKind) String() string {
	switch k {
	case EventMetadataLoaded:
		return "metadata"
	case EventTimeUpdate:
		return "timeupdate"
	case EventEnded:
		return "ended"
	}
	return "unknown"
}

// DeviceEvent is emitted by a MediaDevice for the resource at URL
type DeviceEvent struct {
	Kind  EventKind
	URL   string
	Value float64
}

// Subscription delivers device events until it is closed
type Subscription interface {
	Events() <-chan DeviceEvent
	Close()
}

// MediaDevice is the audio output a Session drives.
// Load leaves the output paused at the start of the resource.
// Play acknowledges asynchronously: the channel yields nil once audio is
// running, or the reason the device refused.
type MediaDevice interface {
	Load(url string) error
	Play() <-chan error
	Pause() error
	SeekTo(seconds float64) error
	SetVolume(level float64) error
	Subscribe() Subscription
	Close() error
}

// playResult returns an already-resolved acknowledgement channel
func playResult(err error) <-chan error {
	ch := make(chan error, 1)
	ch <- err
	return ch
}

const subscriptionBuffer = 64

// eventHub fans device events out to subscribers without blocking the device
type eventHub struct {
	mu     sync.Mutex
	subs   map[*hubSubscription]struct{}
	closed bool
}

type hubSubscription struct {
	hub *eventHub
	ch  chan DeviceEvent
}

func (h *eventHub) subscribe() Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := &hubSubscription{hub: h, ch: make(chan DeviceEvent, subscriptionBuffer)}
	if h.closed {
		close(s.ch)
		return s
	}
	if h.subs == nil {
		h.subs = make(map[*hubSubscription]struct{})
	}
	h.subs[s] = struct{}{}
	return s
}

func (h *eventHub) publish(ev DeviceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.ch <- ev:
		default:
			log.Printf("level=warn msg=\"device event dropped\" kind=%s url=%q", ev.Kind, ev.URL)
		}
	}
}

// count returns the number of live subscriptions
func (h *eventHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		close(s.ch)
	}
	h.subs = nil
}

func (s *hubSubscription) Events() <-chan DeviceEvent {
	return s.ch
}

func (s *hubSubscription) Close() {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.ch)
}
