//go:build linux
// +build linux

package main

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// commandRunner runs a command and returns its stdout
type commandRunner func(name string, args ...string) (string, error)

func execRunner(name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}

// PlayerctlDevice drives the active MPRIS player through playerctl.
// Position and duration are polled since playerctl has no event stream
// that covers both.
type PlayerctlDevice struct {
	poller
	run commandRunner
}

// NewSystemDevice creates the platform media device
func NewSystemDevice(cfg Config) (MediaDevice, error) {
	if _, err := exec.LookPath("playerctl"); err != nil {
		return nil, fmt.Errorf("playerctl not found: %w", err)
	}
	return newPlayerctlDevice(execRunner, time.Duration(cfg.Timing.DataFetchMs)*time.Millisecond), nil
}

func newPlayerctlDevice(run commandRunner, interval time.Duration) *PlayerctlDevice {
	d := &PlayerctlDevice{run: run}
	d.poller.init(interval, d.probe)
	return d
}

func (p *PlayerctlDevice) ctl(args ...string) error {
	if _, err := p.run("playerctl", args...); err != nil {
		return fmt.Errorf("playerctl %s failed: %w", args[0], err)
	}
	return nil
}

func (p *PlayerctlDevice) Load(url string) error {
	if err := p.ctl("open", url); err != nil {
		return err
	}
	p.setURL(url)
	return p.ctl("pause")
}

func (p *PlayerctlDevice) Play() <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- p.ctl("play") }()
	return ch
}

func (p *PlayerctlDevice) Pause() error {
	return p.ctl("pause")
}

func (p *PlayerctlDevice) SeekTo(seconds float64) error {
	return p.ctl("position", fmt.Sprintf("%.3f", seconds))
}

func (p *PlayerctlDevice) SetVolume(level float64) error {
	return p.ctl("volume", fmt.Sprintf("%.2f", level))
}

// probe reads duration, position and status from playerctl
func (p *PlayerctlDevice) probe() (probeResult, error) {
	var r probeResult

	status, err := p.run("playerctl", "status")
	if err != nil {
		// When no player is running or nothing is playing
		return r, errors.New("no song playing")
	}
	r.stopped = strings.EqualFold(status, "stopped")

	out, err := p.run("playerctl", "metadata", "mpris:length")
	if err == nil {
		var micros int64
		if n, err := fmt.Sscanf(out, "%d", &micros); n == 1 && err == nil {
			// Convert from microseconds to seconds
			r.duration = float64(micros) / 1e6
			r.hasDuration = true
		}
	}

	out, err = p.run("playerctl", "position")
	if err != nil {
		return r, errors.New("no song playing")
	}
	if n, err := fmt.Sscanf(out, "%f", &r.position); n != 1 || err != nil {
		return r, fmt.Errorf("failed to parse position: %w", err)
	}
	return r, nil
}
