package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

const (
	mpvCommandTimeout = 5 * time.Second
	mpvDialAttempts   = 50

	mpvObserveDuration = 1
	mpvObserveTimePos  = 2
)

var errMPVClosed = errors.New("mpv connection closed")

// mpvMessage covers both command replies and events on the IPC socket
type mpvMessage struct {
	RequestID int64           `json:"request_id"`
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
	Event     string          `json:"event"`
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Reason    string          `json:"reason"`
}

type mpvRequest struct {
	Command   []interface{} `json:"command"`
	RequestID int64         `json:"request_id"`
}

// MPVDevice drives an mpv process over its JSON IPC socket
type MPVDevice struct {
	cmd    *exec.Cmd
	socket string
	conn   net.Conn

	writeMu sync.Mutex
	enc     *json.Encoder

	mu      sync.Mutex
	nextID  int64
	waiting map[int64]chan error
	url     string
	closed  bool

	hub  eventHub
	done chan struct{}
}

// StartMPV launches mpv in idle mode and connects to its IPC socket
func StartMPV(path string) (*MPVDevice, error) {
	socket := filepath.Join(os.TempDir(), fmt.Sprintf("tunein-mpv-%d.sock", os.Getpid()))
	_ = os.Remove(socket)

	cmd := exec.Command(path,
		"--idle=yes",
		"--no-video",
		"--no-terminal",
		"--input-ipc-server="+socket,
	)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", path, err)
	}

	var conn net.Conn
	var err error
	for i := 0; i < mpvDialAttempts; i++ {
		conn, err = net.Dial("unix", socket)
		if err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("connect to mpv ipc %s: %w", socket, err)
	}

	d := newMPVDevice(conn)
	d.cmd = cmd
	d.socket = socket
	return d, nil
}

// newMPVDevice wraps an established IPC connection
func newMPVDevice(conn net.Conn) *MPVDevice {
	d := &MPVDevice{
		conn:    conn,
		enc:     json.NewEncoder(conn),
		waiting: make(map[int64]chan error),
		done:    make(chan struct{}),
	}
	go d.readLoop()
	d.request("observe_property", mpvObserveDuration, "duration")
	d.request("observe_property", mpvObserveTimePos, "time-pos")
	return d
}

// request sends a command and returns a channel for its reply
func (d *MPVDevice) request(args ...interface{}) <-chan error {
	ch := make(chan error, 1)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		ch <- errMPVClosed
		return ch
	}
	d.nextID++
	id := d.nextID
	d.waiting[id] = ch
	d.mu.Unlock()

	d.writeMu.Lock()
	err := d.enc.Encode(mpvRequest{Command: args, RequestID: id})
	d.writeMu.Unlock()
	if err != nil {
		d.mu.Lock()
		_, owned := d.waiting[id]
		delete(d.waiting, id)
		d.mu.Unlock()
		// readLoop already answered it when the connection dropped
		if owned {
			ch <- fmt.Errorf("mpv %v: %w", args[0], err)
		}
	}
	return ch
}

// command sends a command and waits for its reply
func (d *MPVDevice) command(args ...interface{}) error {
	select {
	case err := <-d.request(args...):
		return err
	case <-time.After(mpvCommandTimeout):
		return fmt.Errorf("mpv %v: timed out", args[0])
	}
}

func (d *MPVDevice) readLoop() {
	defer close(d.done)
	scanner := bufio.NewScanner(d.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var msg mpvMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			log.Printf("level=warn msg=\"bad mpv message\" err=%q", err)
			continue
		}
		d.dispatch(msg)
	}

	d.mu.Lock()
	d.closed = true
	for id, ch := range d.waiting {
		ch <- errMPVClosed
		delete(d.waiting, id)
	}
	d.mu.Unlock()
	d.hub.close()
}

func (d *MPVDevice) dispatch(msg mpvMessage) {
	if msg.Event == "" {
		d.mu.Lock()
		ch, ok := d.waiting[msg.RequestID]
		delete(d.waiting, msg.RequestID)
		d.mu.Unlock()
		if !ok {
			return
		}
		if msg.Error != "" && msg.Error != "success" {
			ch <- errors.New(msg.Error)
		} else {
			ch <- nil
		}
		return
	}

	d.mu.Lock()
	url := d.url
	d.mu.Unlock()

	switch msg.Event {
	case "property-change":
		var value float64
		// null while nothing is loaded
		if len(msg.Data) == 0 || string(msg.Data) == "null" || json.Unmarshal(msg.Data, &value) != nil {
			return
		}
		switch msg.ID {
		case mpvObserveDuration:
			d.hub.publish(DeviceEvent{Kind: EventMetadataLoaded, URL: url, Value: value})
		case mpvObserveTimePos:
			d.hub.publish(DeviceEvent{Kind: EventTimeUpdate, URL: url, Value: value})
		}
	case "end-file":
		if msg.Reason == "eof" {
			d.hub.publish(DeviceEvent{Kind: EventEnded, URL: url})
		} else if msg.Reason == "error" {
			log.Printf("level=warn msg=\"mpv could not play file\" url=%q", url)
		}
	}
}

func (d *MPVDevice) Load(url string) error {
	if err := d.command("set_property", "pause", true); err != nil {
		return err
	}
	d.mu.Lock()
	d.url = url
	d.mu.Unlock()
	if err := d.command("loadfile", url, "replace"); err != nil {
		// Whatever mpv still holds belongs to no track
		d.mu.Lock()
		d.url = ""
		d.mu.Unlock()
		return err
	}
	return nil
}

func (d *MPVDevice) Play() <-chan error {
	return d.request("set_property", "pause", false)
}

func (d *MPVDevice) Pause() error {
	return d.command("set_property", "pause", true)
}

func (d *MPVDevice) SeekTo(seconds float64) error {
	return d.command("seek", seconds, "absolute")
}

// SetVolume maps the normalized level onto mpv's 0-100 scale
func (d *MPVDevice) SetVolume(level float64) error {
	return d.command("set_property", "volume", level*100)
}

func (d *MPVDevice) Subscribe() Subscription {
	return d.hub.subscribe()
}

// Close quits mpv and releases the socket
func (d *MPVDevice) Close() error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if !closed && d.cmd != nil {
		select {
		case <-d.request("quit"):
		case <-time.After(time.Second):
		}
	}

	err := d.conn.Close()
	<-d.done
	if d.cmd != nil {
		if werr := d.cmd.Wait(); werr != nil && err == nil {
			var exitErr *exec.ExitError
			if !errors.As(werr, &exitErr) {
				err = werr
			}
		}
		_ = os.Remove(d.socket)
	}
	return err
}
