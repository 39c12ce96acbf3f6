package main

import (
	"fmt"
	"log"
	"math"
)

// PlayRequest is a play start waiting for the device to acknowledge it.
// Receive from Done off the event loop, then pass the result to ResolvePlay.
type PlayRequest struct {
	gen     uint64
	trackID string
	Done    <-chan error
}

// PlayError reports a play start the device refused
type PlayError struct {
	Track Track
	Err   error
}

func (e *PlayError) Error() string {
	return fmt.Sprintf("playback of %q failed: %v", e.Track.DisplayTitle(), e.Err)
}

func (e *PlayError) Unwrap() error {
	return e.Err
}

// Snapshot is a read-only view of the session for rendering
type Snapshot struct {
	Track    Track   `json:"track"`
	Loaded   bool    `json:"loaded"`
	Playing  bool    `json:"playing"`
	Pending  bool    `json:"pending"`
	Intent   bool    `json:"intent"`
	Position float64 `json:"position"`
	Duration float64 `json:"duration"`
	Volume   float64 `json:"volume"`
}

// Progress returns the played fraction of the track in [0, 1]
func (s Snapshot) Progress() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return clamp(s.Position/s.Duration, 0, 1)
}

// Session owns the playback state and is the only caller of its device.
// It is not safe for concurrent use: every method must run on the same
// event loop.
type Session struct {
	provider TrackProvider
	device   MediaDevice
	sub      Subscription

	track    *Track
	loaded   bool // the device accepted track's media
	intent   bool // the user wants audio
	playing  bool // the device confirmed audio is running
	pending  uint64
	position float64
	duration float64
	volume   float64

	// gen advances on every user intent and track change; play
	// acknowledgements carrying an older value are discarded
	gen uint64
}

// NewSession creates a session driving device with tracks from provider
func NewSession(provider TrackProvider, device MediaDevice, volume float64) *Session {
	if !isFinite(volume) || volume < 0 || volume > 1 {
		volume = 1
	}
	return &Session{
		provider: provider,
		device:   device,
		volume:   volume,
	}
}

// Activate subscribes to device events, applies the volume and loads the
// provider's current selection
func (s *Session) Activate() error {
	if s.sub == nil {
		s.sub = s.device.Subscribe()
	}
	if err := s.device.SetVolume(s.volume); err != nil {
		return fmt.Errorf("set initial volume: %w", err)
	}
	if t, ok := s.provider.Selected(); ok {
		if _, err := s.SelectTrack(t); err != nil {
			return err
		}
	}
	return nil
}

// Events returns the device event stream, nil before Activate
func (s *Session) Events() <-chan DeviceEvent {
	if s.sub == nil {
		return nil
	}
	return s.sub.Events()
}

// Close releases the device subscription
func (s *Session) Close() {
	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
	}
}

// Loaded reports whether a playable track is current and the device
// holds its media
func (s *Session) Loaded() bool {
	return s.track != nil && s.loaded && s.track.Playable()
}

// Snapshot returns the current state
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		Loaded:   s.Loaded(),
		Playing:  s.playing,
		Pending:  s.pending != 0,
		Intent:   s.intent,
		Position: s.position,
		Duration: s.duration,
		Volume:   s.volume,
	}
	if s.track != nil {
		snap.Track = *s.track
	}
	return snap
}

// SelectTrack makes t the current track. Playback continues on the new
// track only when the user already wanted audio.
func (s *Session) SelectTrack(t Track) (*PlayRequest, error) {
	// A play still waiting for its answer may start audio on the device
	active := s.playing || s.pending != 0

	s.gen++
	s.pending = 0
	s.playing = false
	s.position = 0
	s.duration = 0
	s.loaded = false
	s.track = &t

	if !t.Playable() {
		if active {
			if err := s.device.Pause(); err != nil {
				return nil, fmt.Errorf("pause for track without media: %w", err)
			}
		}
		return nil, nil
	}

	if err := s.device.Load(t.MediaURL); err != nil {
		if active {
			if perr := s.device.Pause(); perr != nil {
				log.Printf("level=warn msg=\"pause after failed load\" err=%q", perr)
			}
		}
		return nil, fmt.Errorf("load %s: %w", t.MediaURL, err)
	}
	s.loaded = true
	if !s.intent {
		return nil, nil
	}
	return s.requestPlay(), nil
}

// TogglePlayPause pauses when the user wants audio and requests a play
// otherwise. It does nothing without a playable track.
func (s *Session) TogglePlayPause() (*PlayRequest, error) {
	if !s.Loaded() {
		return nil, nil
	}
	if s.intent {
		if err := s.device.Pause(); err != nil {
			return nil, fmt.Errorf("pause: %w", err)
		}
		s.gen++
		s.intent = false
		s.playing = false
		s.pending = 0
		return nil, nil
	}
	s.intent = true
	return s.requestPlay(), nil
}

func (s *Session) requestPlay() *PlayRequest {
	s.gen++
	s.pending = s.gen
	return &PlayRequest{
		gen:     s.gen,
		trackID: s.track.ID,
		Done:    s.device.Play(),
	}
}

// ResolvePlay applies the device's answer to req. Answers to requests that
// a later pause or track change superseded are discarded. A refusal leaves
// the session paused and is returned as a *PlayError.
func (s *Session) ResolvePlay(req *PlayRequest, err error) error {
	if req == nil || req.gen != s.gen || s.track == nil || req.trackID != s.track.ID {
		return nil
	}
	s.pending = 0
	if err != nil {
		s.intent = false
		s.playing = false
		log.Printf("level=warn msg=\"play failed\" track=%q err=%q", s.track.ID, err)
		return &PlayError{Track: *s.track, Err: err}
	}
	s.playing = true
	return nil
}

// Seek jumps to percentage (0-100) of the track. It does nothing until the
// duration is known or when percentage is not a number.
func (s *Session) Seek(percentage float64) error {
	if !isFinite(percentage) || !s.Loaded() || s.duration <= 0 {
		return nil
	}
	target := clamp(percentage/100*s.duration, 0, s.duration)
	if err := s.device.SeekTo(target); err != nil {
		return fmt.Errorf("seek to %.1fs: %w", target, err)
	}
	s.position = target
	return nil
}

// SetVolume sets the gain. Levels outside [0, 1] are ignored.
func (s *Session) SetVolume(level float64) error {
	if !isFinite(level) || level < 0 || level > 1 {
		return nil
	}
	if err := s.device.SetVolume(level); err != nil {
		return fmt.Errorf("set volume: %w", err)
	}
	s.volume = level
	return nil
}

// OnMetadataLoaded records the duration reported by the device
func (s *Session) OnMetadataLoaded(duration float64) {
	if !isFinite(duration) || duration < 0 {
		duration = 0
	}
	s.duration = duration
	s.position = clamp(s.position, 0, s.duration)
}

// OnTimeUpdate records the position reported by the device
func (s *Session) OnTimeUpdate(position float64) {
	if !isFinite(position) {
		return
	}
	s.position = clamp(position, 0, s.duration)
}

// HandleEvent routes a device event. Events for anything but the current
// track's media are dropped. It reports whether the track ended.
func (s *Session) HandleEvent(ev DeviceEvent) (ended bool) {
	if !s.Loaded() || ev.URL != s.track.MediaURL {
		return false
	}
	switch ev.Kind {
	case EventMetadataLoaded:
		s.OnMetadataLoaded(ev.Value)
	case EventTimeUpdate:
		s.OnTimeUpdate(ev.Value)
	case EventEnded:
		s.playing = false
		s.pending = 0
		s.gen++
		s.position = s.duration
		return true
	}
	return false
}

// Rewind reloads the current track paused at its start and drops the
// intent to play
func (s *Session) Rewind() error {
	if !s.Loaded() {
		return nil
	}
	s.intent = false
	_, err := s.SelectTrack(*s.track)
	return err
}

// UpdateDetails merges refreshed metadata for the current track. A changed
// media locator reloads the track.
func (s *Session) UpdateDetails(t Track) (*PlayRequest, error) {
	if s.track == nil || s.track.ID != t.ID {
		return nil, nil
	}
	if t.MediaURL != s.track.MediaURL {
		return s.SelectTrack(t)
	}
	s.track = &t
	return nil, nil
}

// Next advances the provider and selects the track it lands on
func (s *Session) Next() (*PlayRequest, error) {
	t, ok := s.provider.Next()
	if !ok {
		return nil, nil
	}
	return s.SelectTrack(t)
}

// Previous moves the provider back and selects the track it lands on
func (s *Session) Previous() (*PlayRequest, error) {
	t, ok := s.provider.Previous()
	if !ok {
		return nil, nil
	}
	return s.SelectTrack(t)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
