package main

import (
	"sync"
	"time"
)

// probeResult is one sample of an externally controlled player
type probeResult struct {
	position    float64
	duration    float64
	hasDuration bool
	stopped     bool
}

// poller turns periodic probes of a system player into device events.
// It backs the playerctl and AppleScript devices.
type poller struct {
	hub      eventHub
	interval time.Duration
	probe    func() (probeResult, error)

	mu           sync.Mutex
	url          string
	lastDuration float64
	running      bool
	started      bool

	stop      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

func (p *poller) init(interval time.Duration, probe func() (probeResult, error)) {
	if interval <= 0 {
		interval = time.Second
	}
	p.interval = interval
	p.probe = probe
	p.stop = make(chan struct{})
	p.stopped = make(chan struct{})
}

// setURL records the resource that subsequent samples belong to
func (p *poller) setURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	p.lastDuration = -1
	p.running = false
}

// Subscribe starts polling on first use
func (p *poller) Subscribe() Subscription {
	sub := p.hub.subscribe()
	p.mu.Lock()
	if !p.started {
		p.started = true
		go p.loop()
	}
	p.mu.Unlock()
	return sub
}

func (p *poller) loop() {
	defer close(p.stopped)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.pollOnce()
		case <-p.stop:
			return
		}
	}
}

func (p *poller) pollOnce() {
	r, err := p.probe()
	if err != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.url == "" {
		return
	}
	if r.hasDuration && r.duration != p.lastDuration {
		p.lastDuration = r.duration
		p.hub.publish(DeviceEvent{Kind: EventMetadataLoaded, URL: p.url, Value: r.duration})
	}
	if r.stopped {
		if p.running {
			p.running = false
			p.hub.publish(DeviceEvent{Kind: EventEnded, URL: p.url})
		}
		return
	}
	p.running = true
	p.hub.publish(DeviceEvent{Kind: EventTimeUpdate, URL: p.url, Value: r.position})
}

// Close stops polling and ends all subscriptions
func (p *poller) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		started := p.started
		p.mu.Unlock()
		close(p.stop)
		if started {
			<-p.stopped
		}
		p.hub.close()
	})
	return nil
}
