package main

import (
	"errors"
	"math"
	"testing"
)

// TestActivateLoadsSelection tests that activation subscribes and loads the first track paused
func TestActivateLoadsSelection(t *testing.T) {
	s, dev, _ := newTestSession(t)

	snap := s.Snapshot()
	if !snap.Loaded {
		t.Fatal("Expected session to be loaded after Activate")
	}
	assertEqual(t, snap.Track.ID, "a", "current track")
	assertEqual(t, snap.Playing, false, "playing")
	assertEqual(t, dev.volume, 1.0, "device volume")
	assertEqual(t, len(dev.loaded), 1, "loads")
	assertEqual(t, dev.plays, 0, "plays")
	assertEqual(t, dev.hub.count(), 1, "subscriptions")

	s.Close()
	assertEqual(t, dev.hub.count(), 0, "subscriptions after Close")
	if s.Events() != nil {
		t.Error("Expected nil event channel after Close")
	}
}

// TestTogglePlayPause tests play acknowledgement and pausing
func TestTogglePlayPause(t *testing.T) {
	s, dev, _ := newTestSession(t)

	req, err := s.TogglePlayPause()
	assertNoError(t, err)
	if !s.Snapshot().Pending {
		t.Error("Expected a pending play before acknowledgement")
	}
	if s.Snapshot().Playing {
		t.Error("Playing must not be set before the device acknowledges")
	}

	assertNoError(t, s.ResolvePlay(req, awaitPlay(t, req)))
	snap := s.Snapshot()
	assertEqual(t, snap.Playing, true, "playing after ack")
	assertEqual(t, snap.Pending, false, "pending after ack")

	req, err = s.TogglePlayPause()
	assertNoError(t, err)
	if req != nil {
		t.Error("Pausing should not return a play request")
	}
	assertEqual(t, s.Snapshot().Playing, false, "playing after pause")
	assertEqual(t, dev.pauses, 1, "device pauses")
}

// TestTogglePlayThenPauseBeforeAck tests that a late success cannot resurrect playback
func TestTogglePlayThenPauseBeforeAck(t *testing.T) {
	s, dev, _ := newTestSession(t)
	dev.manual = true

	req, err := s.TogglePlayPause()
	assertNoError(t, err)
	_, err = s.TogglePlayPause()
	assertNoError(t, err)

	dev.resolve(0, nil)
	assertNoError(t, s.ResolvePlay(req, awaitPlay(t, req)))

	snap := s.Snapshot()
	assertEqual(t, snap.Playing, false, "playing after stale ack")
	assertEqual(t, snap.Intent, false, "intent after pause")
}

// TestPlayFailure tests that a refused play leaves the session paused and reports a PlayError
func TestPlayFailure(t *testing.T) {
	s, dev, _ := newTestSession(t)
	dev.playErr = errDeviceRefused

	req, err := s.TogglePlayPause()
	assertNoError(t, err)

	err = s.ResolvePlay(req, awaitPlay(t, req))
	var playErr *PlayError
	if !errors.As(err, &playErr) {
		t.Fatalf("Expected *PlayError, got %v", err)
	}
	if !errors.Is(err, errDeviceRefused) {
		t.Errorf("Expected PlayError to wrap the device error, got %v", err)
	}
	assertEqual(t, playErr.Track.ID, "a", "failed track")

	snap := s.Snapshot()
	assertEqual(t, snap.Playing, false, "playing")
	assertEqual(t, snap.Intent, false, "intent")
	assertEqual(t, snap.Pending, false, "pending")

	// A retry is a fresh single attempt
	dev.playErr = nil
	req, err = s.TogglePlayPause()
	assertNoError(t, err)
	assertNoError(t, s.ResolvePlay(req, awaitPlay(t, req)))
	assertEqual(t, s.Snapshot().Playing, true, "playing after retry")
}

// TestPauseFailureKeepsState tests that a device pause error does not desynchronize the session
func TestPauseFailureKeepsState(t *testing.T) {
	s, dev, _ := newTestSession(t)
	req, _ := s.TogglePlayPause()
	assertNoError(t, s.ResolvePlay(req, awaitPlay(t, req)))

	dev.pauseErr = errors.New("ipc closed")
	if _, err := s.TogglePlayPause(); err == nil {
		t.Fatal("Expected pause error")
	}
	assertEqual(t, s.Snapshot().Playing, true, "playing after failed pause")
}

// TestStaleResultAfterTrackChange tests that callbacks for a replaced track are discarded
func TestStaleResultAfterTrackChange(t *testing.T) {
	for _, result := range []error{nil, errDeviceRefused} {
		name := "success"
		if result != nil {
			name = "failure"
		}
		t.Run(name, func(t *testing.T) {
			s, dev, pl := newTestSession(t)
			dev.manual = true

			stale, err := s.TogglePlayPause()
			assertNoError(t, err)

			next, _ := pl.Next()
			fresh, err := s.SelectTrack(next)
			assertNoError(t, err)
			if fresh == nil {
				t.Fatal("Expected playback to continue on the new track")
			}

			dev.resolve(0, result)
			if err := s.ResolvePlay(stale, awaitPlay(t, stale)); err != nil {
				t.Errorf("Expected stale result to be discarded, got %v", err)
			}
			snap := s.Snapshot()
			assertEqual(t, snap.Playing, false, "playing after stale result")
			assertEqual(t, snap.Intent, true, "intent after stale result")
			assertEqual(t, snap.Pending, true, "pending for new track")

			dev.resolve(1, nil)
			assertNoError(t, s.ResolvePlay(fresh, awaitPlay(t, fresh)))
			assertEqual(t, s.Snapshot().Playing, true, "playing after fresh ack")
			assertEqual(t, s.Snapshot().Track.ID, "b", "current track")
		})
	}
}

// TestToggleIdleIsNoop tests that play/pause is gated by a playable track
func TestToggleIdleIsNoop(t *testing.T) {
	s, dev, _ := newTestSession(t)
	_, err := s.SelectTrack(Track{ID: "x", Title: "No media"})
	assertNoError(t, err)

	req, err := s.TogglePlayPause()
	assertNoError(t, err)
	if req != nil {
		t.Error("Expected no play request in Idle")
	}
	snap := s.Snapshot()
	assertEqual(t, snap.Loaded, false, "loaded")
	assertEqual(t, snap.Intent, false, "intent")
	assertEqual(t, dev.plays, 0, "plays")
}

// TestSelectTrackWithoutMedia tests the Loaded to Idle transition
func TestSelectTrackWithoutMedia(t *testing.T) {
	s, dev, _ := newTestSession(t)
	req, _ := s.TogglePlayPause()
	assertNoError(t, s.ResolvePlay(req, awaitPlay(t, req)))

	req, err := s.SelectTrack(Track{ID: "x"})
	assertNoError(t, err)
	if req != nil {
		t.Error("Expected no play request for a track without media")
	}

	snap := s.Snapshot()
	assertEqual(t, snap.Loaded, false, "loaded")
	assertEqual(t, snap.Playing, false, "playing")
	assertEqual(t, snap.Intent, true, "intent survives Idle")
	assertEqual(t, dev.pauses, 1, "device paused")

	// Back to Loaded resumes because the intent persisted
	req, err = s.SelectTrack(testTracks()[2])
	assertNoError(t, err)
	assertNoError(t, s.ResolvePlay(req, awaitPlay(t, req)))
	assertEqual(t, s.Snapshot().Playing, true, "playing after return to Loaded")

	// A play still waiting for the device must be paused as well
	s, dev, _ = newTestSession(t)
	dev.manual = true
	pending, _ := s.TogglePlayPause()
	_, err = s.SelectTrack(Track{ID: "x"})
	assertNoError(t, err)
	dev.resolve(0, nil)
	assertNoError(t, s.ResolvePlay(pending, awaitPlay(t, pending)))

	snap = s.Snapshot()
	assertEqual(t, snap.Loaded, false, "loaded while pending")
	assertEqual(t, snap.Playing, false, "playing while pending")
	assertEqual(t, dev.pauses, 1, "device paused while pending")
}

// TestSelectWhilePausedStaysPaused tests that a track change does not start playback on its own
func TestSelectWhilePausedStaysPaused(t *testing.T) {
	s, dev, _ := newTestSession(t)

	req, err := s.Next()
	assertNoError(t, err)
	if req != nil {
		t.Error("Expected no play request while paused")
	}
	assertEqual(t, s.Snapshot().Track.ID, "b", "current track")
	assertEqual(t, dev.plays, 0, "plays")
	assertEqual(t, dev.loaded[len(dev.loaded)-1], "file:///music/b.mp3", "loaded url")
}

// TestNextResetsPosition tests the track change scenario while playing
func TestNextResetsPosition(t *testing.T) {
	s, dev, _ := newTestSession(t)
	req, _ := s.TogglePlayPause()
	assertNoError(t, s.ResolvePlay(req, awaitPlay(t, req)))
	s.OnMetadataLoaded(200)
	s.OnTimeUpdate(50)

	dev.manual = true
	req, err := s.Next()
	assertNoError(t, err)
	if req == nil {
		t.Fatal("Expected playback to continue after next")
	}

	snap := s.Snapshot()
	assertEqual(t, snap.Track.ID, "b", "current track")
	assertEqual(t, snap.Position, 0.0, "position")
	assertEqual(t, snap.Duration, 0.0, "duration")
	assertEqual(t, snap.Intent, true, "intent")

	seeks := len(dev.seeks)
	assertNoError(t, s.Seek(50))
	assertEqual(t, len(dev.seeks), seeks, "seeks before metadata")

	s.OnMetadataLoaded(120)
	assertNoError(t, s.Seek(50))
	assertEqual(t, s.Snapshot().Position, 60.0, "position after seek")
}

// TestSeek tests seeking by percentage
func TestSeek(t *testing.T) {
	tests := []struct {
		name       string
		percentage float64
		want       float64
	}{
		{"start", 0, 0},
		{"quarter", 25, 50},
		{"half", 50, 100},
		{"end", 100, 200},
		{"fraction", 33.3, 66.6},
		{"below range", -10, 0},
		{"above range", 150, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, dev, _ := newTestSession(t)
			s.OnMetadataLoaded(200)
			assertNoError(t, s.Seek(tt.percentage))

			got := s.Snapshot().Position
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Seek(%v) position = %v; want %v", tt.percentage, got, tt.want)
			}
			if len(dev.seeks) != 1 || math.Abs(dev.seeks[0]-tt.want) > 1e-9 {
				t.Errorf("Seek(%v) device seeks = %v; want [%v]", tt.percentage, dev.seeks, tt.want)
			}
		})
	}
}

// TestSeekInvalid tests that seeks are ignored without duration or a number
func TestSeekInvalid(t *testing.T) {
	s, dev, _ := newTestSession(t)

	assertNoError(t, s.Seek(50))
	assertEqual(t, len(dev.seeks), 0, "seeks with zero duration")

	s.OnMetadataLoaded(100)
	s.OnTimeUpdate(10)
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		assertNoError(t, s.Seek(v))
	}
	assertEqual(t, len(dev.seeks), 0, "seeks with non-numbers")
	assertEqual(t, s.Snapshot().Position, 10.0, "position")

	dev.seekErr = errors.New("seek refused")
	if err := s.Seek(20); err == nil {
		t.Error("Expected device seek error")
	}
	assertEqual(t, s.Snapshot().Position, 10.0, "position after failed seek")
}

// TestSetVolume tests volume read-back and rejection of invalid levels
func TestSetVolume(t *testing.T) {
	s, dev, _ := newTestSession(t)

	for _, level := range []float64{0, 0.01, 0.25, 0.5, 0.99, 1} {
		assertNoError(t, s.SetVolume(level))
		assertEqual(t, s.Snapshot().Volume, level, "volume read-back")
		assertEqual(t, dev.volume, level, "device volume")
	}

	assertNoError(t, s.SetVolume(0.4))
	for _, level := range []float64{-0.1, 1.01, 7, math.NaN(), math.Inf(1)} {
		assertNoError(t, s.SetVolume(level))
		assertEqual(t, s.Snapshot().Volume, 0.4, "volume after invalid level")
	}
	assertEqual(t, dev.volume, 0.4, "device volume after invalid levels")
}

// TestVolumePersistsAcrossTracks tests that a track change keeps the volume
func TestVolumePersistsAcrossTracks(t *testing.T) {
	s, _, _ := newTestSession(t)
	assertNoError(t, s.SetVolume(0.3))
	_, err := s.Next()
	assertNoError(t, err)
	_, err = s.SelectTrack(Track{ID: "idle"})
	assertNoError(t, err)
	assertEqual(t, s.Snapshot().Volume, 0.3, "volume")
}

// TestMetadataAndTimeUpdate tests device-driven duration and position
func TestMetadataAndTimeUpdate(t *testing.T) {
	s, _, _ := newTestSession(t)

	s.OnTimeUpdate(5)
	assertEqual(t, s.Snapshot().Position, 0.0, "position before duration is known")

	s.OnMetadataLoaded(math.NaN())
	assertEqual(t, s.Snapshot().Duration, 0.0, "duration from NaN")

	s.OnMetadataLoaded(180)
	s.OnTimeUpdate(42.5)
	assertEqual(t, s.Snapshot().Position, 42.5, "position")

	s.OnTimeUpdate(500)
	assertEqual(t, s.Snapshot().Position, 180.0, "position clamped to duration")

	s.OnTimeUpdate(-3)
	assertEqual(t, s.Snapshot().Position, 0.0, "position clamped to zero")

	s.OnTimeUpdate(90)
	s.OnTimeUpdate(math.NaN())
	assertEqual(t, s.Snapshot().Position, 90.0, "position after NaN update")

	s.OnMetadataLoaded(60)
	assertEqual(t, s.Snapshot().Position, 60.0, "position re-clamped to shorter duration")

	snap := s.Snapshot()
	assertEqual(t, snap.Progress(), 1.0, "progress")
}

// TestHandleEvent tests routing of device events through the subscription
func TestHandleEvent(t *testing.T) {
	s, dev, _ := newTestSession(t)

	dev.emit(EventMetadataLoaded, 240)
	for i := 0; i < 2; i++ {
		ev := <-s.Events()
		if s.HandleEvent(ev) {
			t.Errorf("Unexpected end for %s event", ev.Kind)
		}
	}
	snap := s.Snapshot()
	assertEqual(t, snap.Duration, 240.0, "duration")
	assertEqual(t, snap.Position, 12.0, "position")

	// Events for a previously loaded resource are ignored
	s.HandleEvent(DeviceEvent{Kind: EventTimeUpdate, URL: "file:///music/old.mp3", Value: 99})
	assertEqual(t, s.Snapshot().Position, 12.0, "position after foreign event")

	req, _ := s.TogglePlayPause()
	assertNoError(t, s.ResolvePlay(req, awaitPlay(t, req)))
	dev.emit(EventEnded, 0)
	if !s.HandleEvent(<-s.Events()) {
		t.Error("Expected end of track to be reported")
	}
	snap = s.Snapshot()
	assertEqual(t, snap.Playing, false, "playing after end")
	assertEqual(t, snap.Intent, true, "intent after end")
}

// TestRewind tests reloading the current track after it ended
func TestRewind(t *testing.T) {
	s, dev, _ := newTestSession(t)
	req, _ := s.TogglePlayPause()
	assertNoError(t, s.ResolvePlay(req, awaitPlay(t, req)))
	s.OnMetadataLoaded(100)
	s.HandleEvent(DeviceEvent{Kind: EventEnded, URL: "file:///music/a.mp3"})

	assertNoError(t, s.Rewind())
	snap := s.Snapshot()
	assertEqual(t, snap.Intent, false, "intent")
	assertEqual(t, snap.Position, 0.0, "position")
	assertEqual(t, snap.Track.ID, "a", "track")
	assertEqual(t, len(dev.loaded), 2, "loads")
}

// TestUpdateDetails tests merging refreshed metadata
func TestUpdateDetails(t *testing.T) {
	s, dev, _ := newTestSession(t)
	s.OnMetadataLoaded(100)
	s.OnTimeUpdate(30)

	updated := testTracks()[0]
	updated.Description = "Live at the Roxy"
	_, err := s.UpdateDetails(updated)
	assertNoError(t, err)
	snap := s.Snapshot()
	assertEqual(t, snap.Track.Description, "Live at the Roxy", "description")
	assertEqual(t, snap.Position, 30.0, "position kept")
	assertEqual(t, len(dev.loaded), 1, "loads")

	// Details for another track are ignored
	_, err = s.UpdateDetails(Track{ID: "b", Title: "Other"})
	assertNoError(t, err)
	assertEqual(t, s.Snapshot().Track.Title, "Alpha", "title")

	// A new media locator reloads
	updated.MediaURL = "https://cdn.example.com/a.mp3"
	_, err = s.UpdateDetails(updated)
	assertNoError(t, err)
	assertEqual(t, s.Snapshot().Position, 0.0, "position after reload")
	assertEqual(t, dev.loaded[len(dev.loaded)-1], "https://cdn.example.com/a.mp3", "loaded url")
}

// TestLoadFailure tests that a device load error is returned
func TestLoadFailure(t *testing.T) {
	s, dev, _ := newTestSession(t)
	dev.loadErr = errors.New("no such file")
	if _, err := s.Next(); err == nil {
		t.Error("Expected load error")
	}

	snap := s.Snapshot()
	assertEqual(t, snap.Track.ID, "b", "track")
	assertEqual(t, snap.Loaded, false, "loaded")

	req, err := s.TogglePlayPause()
	assertNoError(t, err)
	if req != nil {
		t.Error("Expected no play request for a track that failed to load")
	}
	assertEqual(t, dev.plays, 0, "plays")

	// Events for the previous media no longer apply
	assertEqual(t, s.HandleEvent(DeviceEvent{Kind: EventEnded, URL: "file:///music/a.mp3"}), false, "ended")

	// A later successful load recovers
	dev.loadErr = nil
	_, err = s.Next()
	assertNoError(t, err)
	assertEqual(t, s.Snapshot().Loaded, true, "loaded after recovery")
}

// TestLoadFailureWhilePlaying tests that a failed load stops the old audio
func TestLoadFailureWhilePlaying(t *testing.T) {
	s, dev, _ := newTestSession(t)
	req, _ := s.TogglePlayPause()
	assertNoError(t, s.ResolvePlay(req, awaitPlay(t, req)))

	dev.loadErr = errors.New("no such file")
	if _, err := s.Next(); err == nil {
		t.Error("Expected load error")
	}
	assertEqual(t, dev.playing, false, "device playing")
	assertEqual(t, dev.pauses, 1, "pauses")
	snap := s.Snapshot()
	assertEqual(t, snap.Playing, false, "session playing")
	assertEqual(t, snap.Intent, true, "intent survives failed load")
}

// TestNavigationBoundary tests that provider no-ops leave the session alone
func TestNavigationBoundary(t *testing.T) {
	dev := newFakeDevice()
	pl := NewPlaylist(nil, testTracks()[:1], false)
	s := NewSession(pl, dev, 0.5)
	assertNoError(t, s.Activate())

	req, err := s.Next()
	assertNoError(t, err)
	if req != nil {
		t.Error("Expected no play request at the end of the list")
	}
	assertEqual(t, s.Snapshot().Track.ID, "a", "track after next at end")
	_, err = s.Previous()
	assertNoError(t, err)
	assertEqual(t, s.Snapshot().Track.ID, "a", "track after previous at start")
	assertEqual(t, len(dev.loaded), 1, "loads")
}

// TestNewSessionVolume tests that an invalid initial volume falls back to full gain
func TestNewSessionVolume(t *testing.T) {
	for _, v := range []float64{-1, 2, math.NaN()} {
		s := NewSession(NewPlaylist(nil, nil, true), newFakeDevice(), v)
		assertEqual(t, s.Snapshot().Volume, 1.0, "initial volume")
	}
}
