package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"
)

// listTimeout bounds the initial track listing
const listTimeout = 30 * time.Second

// programRelay forwards remote intents to the program once it exists
type programRelay struct {
	p *tea.Program
}

func (r *programRelay) Send(msg tea.Msg) {
	r.p.Send(msg)
}

// setupLogging sends the standard logger to path, or nowhere when path is
// empty; stdout belongs to the TUI
func setupLogging(path string) func() {
	if path == "" {
		log.SetOutput(io.Discard)
		return func() {}
	}
	f, err := tea.LogToFile(path, "tunein")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cannot open log file: %v\n", err)
		log.SetOutput(io.Discard)
		return func() {}
	}
	return func() { f.Close() }
}

// openSource picks the catalog or the local library and lists its tracks.
// The library is returned as well so it can be watched.
func openSource(cfg Config) (TrackSource, []Track, *Library, error) {
	ctx, cancel := context.WithTimeout(context.Background(), listTimeout)
	defer cancel()

	if cfg.Library.CatalogURL != "" {
		c, err := NewCatalog(cfg.Library.CatalogURL)
		if err != nil {
			return nil, nil, nil, err
		}
		tracks, err := c.List(ctx)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("list catalog: %w", err)
		}
		return c, tracks, nil, nil
	}

	lib, err := NewLibrary(cfg.Library.Dir)
	if err != nil {
		return nil, nil, nil, err
	}
	tracks, err := lib.List(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("scan library: %w", err)
	}
	return lib, tracks, lib, nil
}

// newDevice starts the configured audio output
func newDevice(cfg Config) (MediaDevice, error) {
	if cfg.Player.Backend == "system" {
		return NewSystemDevice(cfg)
	}
	d, err := StartMPV(cfg.Player.MPVPath)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func run(cfg Config) error {
	source, tracks, lib, err := openSource(cfg)
	if err != nil {
		return err
	}
	log.Printf("level=info msg=\"tracks loaded\" count=%d", len(tracks))
	playlist := NewPlaylist(source, tracks, cfg.Player.Wrap)

	device, err := newDevice(cfg)
	if err != nil {
		return fmt.Errorf("audio output: %w", err)
	}
	defer device.Close()

	session := NewSession(playlist, device, cfg.Player.Volume)
	defer session.Close()
	if err := session.Activate(); err != nil {
		return err
	}

	relay := &programRelay{}
	var remote *Remote
	var publisher snapshotPublisher
	if cfg.Remote.Listen != "" {
		remote = NewRemote(relay, playlist)
		publisher = remote
	}

	prog := tea.NewProgram(newModel(session, playlist, publisher), tea.WithAltScreen())
	relay.p = prog

	if remote != nil {
		remote.Publish(session.Snapshot())
		if _, err := remote.Start(cfg.Remote.Listen); err != nil {
			return fmt.Errorf("remote: %w", err)
		}
		defer remote.Close()
	}

	if lib != nil && cfg.Library.Watch {
		lw, err := NewLibraryWatcher(lib, func(tracks []Track, err error) {
			prog.Send(libraryMsg{tracks: tracks, err: err})
		})
		if err != nil {
			log.Printf("level=warn msg=\"library watch disabled\" err=%q", err)
		} else {
			lw.Start()
			defer lw.Stop()
		}
	}

	_, err = prog.Run()
	return err
}

func main() {
	fs := configFlags()
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tunein [flags] [library-dir]\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if _, err := initConfig(fs); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Get()
	closeLog := setupLogging(cfg.Log.File)

	err := run(cfg)
	closeLog()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
