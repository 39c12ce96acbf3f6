package main

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"
)

// generateTestImage creates a simple test image with specified dimensions and colors
func generateTestImage(width, height int, fillColor color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, fillColor)
		}
	}
	return img
}

// assertNoError is a test helper that fails the test if an error occurred
func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

// assertEqual is a generic test helper for comparing values
func assertEqual(t *testing.T, got, want interface{}, msg string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %v, want %v", msg, got, want)
	}
}

// awaitPlay waits for a play acknowledgement
func awaitPlay(t *testing.T, req *PlayRequest) error {
	t.Helper()
	if req == nil {
		t.Fatal("Expected a play request, got nil")
	}
	select {
	case err := <-req.Done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for play acknowledgement")
	}
	return nil
}

// fakeDevice records calls and answers play requests either immediately
// (with playErr) or when the test calls resolve
type fakeDevice struct {
	hub eventHub

	loaded  []string
	seeks   []float64
	volume  float64
	playing bool
	plays   int
	pauses  int

	playErr   error
	loadErr   error
	pauseErr  error
	seekErr   error
	volumeErr error

	manual  bool
	waiting []chan error
	closed  bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{volume: -1}
}

func (d *fakeDevice) Load(url string) error {
	if d.loadErr != nil {
		return d.loadErr
	}
	d.loaded = append(d.loaded, url)
	d.playing = false
	return nil
}

func (d *fakeDevice) Play() <-chan error {
	d.plays++
	ch := make(chan error, 1)
	if d.manual {
		d.waiting = append(d.waiting, ch)
		return ch
	}
	if d.playErr == nil {
		d.playing = true
	}
	ch <- d.playErr
	return ch
}

// resolve answers the i-th outstanding manual play request
func (d *fakeDevice) resolve(i int, err error) {
	if err == nil {
		d.playing = true
	}
	d.waiting[i] <- err
}

func (d *fakeDevice) Pause() error {
	if d.pauseErr != nil {
		return d.pauseErr
	}
	d.pauses++
	d.playing = false
	return nil
}

func (d *fakeDevice) SeekTo(seconds float64) error {
	if d.seekErr != nil {
		return d.seekErr
	}
	d.seeks = append(d.seeks, seconds)
	return nil
}

func (d *fakeDevice) SetVolume(level float64) error {
	if d.volumeErr != nil {
		return d.volumeErr
	}
	d.volume = level
	return nil
}

func (d *fakeDevice) Subscribe() Subscription {
	return d.hub.subscribe()
}

func (d *fakeDevice) Close() error {
	d.closed = true
	d.hub.close()
	return nil
}

// emit publishes an event for the most recently loaded resource
func (d *fakeDevice) emit(kind EventKind, value float64) {
	url := ""
	if len(d.loaded) > 0 {
		url = d.loaded[len(d.loaded)-1]
	}
	d.hub.publish(DeviceEvent{Kind: kind, URL: url, Value: value})
}

// fakeSource is a TrackSource serving a fixed list
type fakeSource struct {
	tracks  []Track
	details map[string]Track
	err     error
}

func (f *fakeSource) List(ctx context.Context) ([]Track, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tracks, nil
}

func (f *fakeSource) Details(ctx context.Context, t Track) (Track, error) {
	if f.err != nil {
		return Track{}, f.err
	}
	if d, ok := f.details[t.ID]; ok {
		return d, nil
	}
	return t, nil
}

var errDeviceRefused = errors.New("autoplay blocked")

// testTracks returns three playable tracks
func testTracks() []Track {
	return []Track{
		{ID: "a", Title: "Alpha", Singer: "Ann", MediaURL: "file:///music/a.mp3"},
		{ID: "b", Title: "Bravo", Singer: "Bob", MediaURL: "file:///music/b.mp3"},
		{ID: "c", Title: "Charlie", Singer: "Cat", MediaURL: "file:///music/c.mp3"},
	}
}

// newTestSession returns an activated session over testTracks
func newTestSession(t *testing.T) (*Session, *fakeDevice, *Playlist) {
	t.Helper()
	dev := newFakeDevice()
	pl := NewPlaylist(&fakeSource{tracks: testTracks()}, testTracks(), true)
	s := NewSession(pl, dev, 1)
	assertNoError(t, s.Activate())
	return s, dev, pl
}
