package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNoSelection is returned when an operation needs a selected track and there is none
var ErrNoSelection = errors.New("no track selected")

// Track is a playable audio item with its display metadata
type Track struct {
	ID           string  `json:"id"`
	Title        string  `json:"title,omitempty"`
	Description  string  `json:"description,omitempty"`
	Singer       string  `json:"singer,omitempty"`
	Album        string  `json:"album,omitempty"`
	MediaURL     string  `json:"mediaUrl,omitempty"`
	ThumbnailURL string  `json:"thumbnailUrl,omitempty"`
	Duration     float64 `json:"duration,omitempty"` // seconds, as reported by the source
}

// Playable reports whether the track has a media locator
func (t Track) Playable() bool {
	return t.MediaURL != ""
}

// DisplayTitle returns the title or a placeholder for untitled tracks
func (t Track) DisplayTitle() string {
	if t.Title == "" {
		return "Untitled Song"
	}
	return t.Title
}

// TrackProvider supplies the selected track and ordered navigation over a track list
type TrackProvider interface {
	Selected() (Track, bool)
	FetchTrackDetails(ctx context.Context) (Track, error)
	Next() (Track, bool)
	Previous() (Track, bool)
}

// TrackSource is where a Playlist gets its tracks from
type TrackSource interface {
	List(ctx context.Context) ([]Track, error)
	Details(ctx context.Context, t Track) (Track, error)
}

// Playlist implements TrackProvider over an ordered list of tracks.
// It is safe for concurrent use.
type Playlist struct {
	mu     sync.RWMutex
	source TrackSource
	tracks []Track
	index  int // -1 when nothing is selected
	wrap   bool
}

// NewPlaylist creates a playlist with the first track selected
func NewPlaylist(source TrackSource, tracks []Track, wrap bool) *Playlist {
	p := &Playlist{
		source: source,
		tracks: append([]Track(nil), tracks...),
		index:  -1,
		wrap:   wrap,
	}
	if len(p.tracks) > 0 {
		p.index = 0
	}
	return p
}

func (p *Playlist) Selected() (Track, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.index < 0 || p.index >= len(p.tracks) {
		return Track{}, false
	}
	return p.tracks[p.index], true
}

// Index returns the position of the selected track, or -1
func (p *Playlist) Index() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.index
}

// Tracks returns a copy of the track list
func (p *Playlist) Tracks() []Track {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Track(nil), p.tracks...)
}

func (p *Playlist) Next() (Track, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.tracks)
	if n == 0 {
		return Track{}, false
	}
	next := p.index + 1
	if next >= n {
		if !p.wrap {
			return Track{}, false
		}
		next = 0
	}
	p.index = next
	return p.tracks[next], true
}

func (p *Playlist) Previous() (Track, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.tracks)
	if n == 0 {
		return Track{}, false
	}
	prev := p.index - 1
	if p.index < 0 {
		prev = n - 1
	} else if prev < 0 {
		if !p.wrap {
			return Track{}, false
		}
		prev = n - 1
	}
	p.index = prev
	return p.tracks[prev], true
}

// Select moves the selection to the track with the given ID
func (p *Playlist) Select(id string) (Track, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, t := range p.tracks {
		if t.ID == id {
			p.index = i
			return t, true
		}
	}
	return Track{}, false
}

// SetTracks replaces the list, keeping the selection when its track survives
func (p *Playlist) SetTracks(tracks []Track) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var selectedID string
	if p.index >= 0 && p.index < len(p.tracks) {
		selectedID = p.tracks[p.index].ID
	}
	p.tracks = append([]Track(nil), tracks...)
	p.index = -1
	for i, t := range p.tracks {
		if selectedID != "" && t.ID == selectedID {
			p.index = i
			break
		}
	}
}

// FetchTrackDetails asks the source for fresh metadata of the selected track
// and stores it in the list
func (p *Playlist) FetchTrackDetails(ctx context.Context) (Track, error) {
	selected, ok := p.Selected()
	if !ok {
		return Track{}, ErrNoSelection
	}
	if p.source == nil {
		return selected, nil
	}

	fresh, err := p.source.Details(ctx, selected)
	if err != nil {
		return Track{}, fmt.Errorf("fetch details for %s: %w", selected.ID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.tracks {
		if p.tracks[i].ID == fresh.ID {
			p.tracks[i] = fresh
			break
		}
	}
	return fresh, nil
}
