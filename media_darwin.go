//go:build darwin
// +build darwin

package main

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// AppleScriptDevice drives Apple Music or Spotify through osascript.
// Both applications understand the same transport verbs; they differ in
// the unit of track duration.
type AppleScriptDevice struct {
	poller
	app string
}

// NewSystemDevice creates the platform media device
func NewSystemDevice(cfg Config) (MediaDevice, error) {
	app := cfg.Player.App
	if app != "Music" && app != "Spotify" {
		return nil, fmt.Errorf("unsupported player app %q (want Music or Spotify)", app)
	}
	d := &AppleScriptDevice{app: app}
	d.poller.init(time.Duration(cfg.Timing.DataFetchMs)*time.Millisecond, d.probe)
	return d, nil
}

func (a *AppleScriptDevice) runAppleScript(script string) (string, error) {
	cmd := exec.Command("osascript", "-e", script)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}

// tell runs a single statement inside a tell block for the configured app
func (a *AppleScriptDevice) tell(statement string) (string, error) {
	out, err := a.runAppleScript(fmt.Sprintf(`tell application %q to %s`, a.app, statement))
	if err != nil {
		return "", fmt.Errorf("%s %s failed: %w", a.app, strings.Fields(statement)[0], err)
	}
	return out, nil
}

func (a *AppleScriptDevice) Load(url string) error {
	if _, err := a.tell(fmt.Sprintf("open location %q", url)); err != nil {
		return err
	}
	a.setURL(url)
	_, err := a.tell("pause")
	return err
}

func (a *AppleScriptDevice) Play() <-chan error {
	ch := make(chan error, 1)
	go func() {
		_, err := a.tell("play")
		ch <- err
	}()
	return ch
}

func (a *AppleScriptDevice) Pause() error {
	_, err := a.tell("pause")
	return err
}

func (a *AppleScriptDevice) SeekTo(seconds float64) error {
	_, err := a.tell(fmt.Sprintf("set player position to %.3f", seconds))
	return err
}

// SetVolume maps the normalized level onto the apps' 0-100 scale
func (a *AppleScriptDevice) SetVolume(level float64) error {
	_, err := a.tell(fmt.Sprintf("set sound volume to %d", int(level*100+0.5)))
	return err
}

func (a *AppleScriptDevice) probe() (probeResult, error) {
	var r probeResult

	script := fmt.Sprintf(`tell application %q
			set playerState to player state as string
			if playerState is "stopped" then
				return playerState & "|0|0"
			end if
			return playerState & "|" & (player position as string) & "|" & (duration of current track as string)
		end tell`, a.app)
	output, err := a.runAppleScript(script)
	if err != nil || output == "" {
		return r, errors.New("no song playing")
	}

	parts := strings.Split(output, "|")
	if len(parts) != 3 {
		return r, errors.New("unexpected player state format")
	}
	r.stopped = parts[0] == "stopped"
	if r.stopped {
		return r, nil
	}

	if n, err := fmt.Sscanf(strings.Replace(parts[1], ",", ".", 1), "%f", &r.position); n != 1 || err != nil {
		return r, errors.New("failed to parse position")
	}
	var duration float64
	if n, err := fmt.Sscanf(strings.Replace(parts[2], ",", ".", 1), "%f", &duration); n == 1 && err == nil {
		// Apple Music returns duration in seconds, Spotify in milliseconds
		if a.app == "Spotify" {
			duration = duration / 1000
		}
		r.duration = duration
		r.hasDuration = true
	}
	return r, nil
}
