package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dhowden/tag"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/tcolgate/mp3"
)

// audioExtensions are the file types the library picks up
var audioExtensions = map[string]bool{
	".mp3":  true,
	".flac": true,
	".m4a":  true,
	".ogg":  true,
}

// libraryNamespace scopes track IDs derived from file URLs
var libraryNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("tunein/library"))

// Library is a TrackSource reading audio files under a directory
type Library struct {
	root string
}

// NewLibrary creates a library rooted at dir
func NewLibrary(dir string) (*Library, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve library dir %s: %w", dir, err)
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("open library: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("library %s is not a directory", abs)
	}
	return &Library{root: abs}, nil
}

// Root returns the absolute library directory
func (l *Library) Root() string {
	return l.root
}

// List walks the library and returns its tracks ordered by path
func (l *Library) List(ctx context.Context) ([]Track, error) {
	var paths []string
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !audioExtensions[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan library: %w", err)
	}
	sort.Strings(paths)

	tracks := make([]Track, 0, len(paths))
	for _, path := range paths {
		t, err := readTrack(path)
		if err != nil {
			log.Printf("level=warn msg=\"skipping file\" path=%q err=%q", path, err)
			continue
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

// Details re-reads the tags of the track's file
func (l *Library) Details(ctx context.Context, t Track) (Track, error) {
	path, err := filePath(t.MediaURL)
	if err != nil {
		return Track{}, err
	}
	return readTrack(path)
}

// fileURL builds the file:// locator for an absolute path
func fileURL(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}

// filePath reverses fileURL and also accepts plain paths
func filePath(locator string) (string, error) {
	if !strings.Contains(locator, "://") {
		return locator, nil
	}
	u, err := url.Parse(locator)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", locator, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("not a local file: %s", locator)
	}
	return filepath.FromSlash(u.Path), nil
}

// trackID derives a stable ID from the file locator
func trackID(mediaURL string) string {
	return uuid.NewSHA1(libraryNamespace, []byte(mediaURL)).String()
}

// readTrack builds a Track from a file's tags, falling back to its name
func readTrack(path string) (Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return Track{}, err
	}
	defer f.Close()

	media := fileURL(path)
	t := Track{
		ID:       trackID(media),
		Title:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		MediaURL: media,
	}

	m, err := tag.ReadFrom(f)
	switch {
	case err == nil:
		if title := strings.TrimSpace(m.Title()); title != "" {
			t.Title = title
		}
		t.Singer = strings.TrimSpace(m.Artist())
		t.Album = strings.TrimSpace(m.Album())
		t.Description = strings.TrimSpace(m.Comment())
		if pic := m.Picture(); pic != nil && len(pic.Data) > 0 {
			// The artwork loader reads the embedded picture from the file itself
			t.ThumbnailURL = media
		}
	case errors.Is(err, tag.ErrNoTagsFound):
	default:
		return Track{}, fmt.Errorf("read tags: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".mp3") {
		if d, err := mp3Duration(f); err == nil {
			t.Duration = d.Seconds()
		}
	}
	return t, nil
}

// mp3Duration sums the frame durations of an mp3 stream
func mp3Duration(r io.ReadSeeker) (time.Duration, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	d := mp3.NewDecoder(r)
	var frame mp3.Frame
	var skipped int
	var total time.Duration
	for {
		if err := d.Decode(&frame, &skipped); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return 0, err
		}
		total += frame.Duration()
	}
	return total, nil
}

// LibraryWatcher rescans the library when files under it change
type LibraryWatcher struct {
	library  *Library
	watcher  *fsnotify.Watcher
	debounce time.Duration
	notify   func([]Track, error)

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewLibraryWatcher watches every directory under the library root
func NewLibraryWatcher(l *Library, notify func([]Track, error)) (*LibraryWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	lw := &LibraryWatcher{
		library:  l,
		watcher:  w,
		debounce: 500 * time.Millisecond,
		notify:   notify,
		quit:     make(chan struct{}),
	}
	err = filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("watch library: %w", err)
	}
	return lw, nil
}

// Start begins delivering rescans to notify
func (lw *LibraryWatcher) Start() {
	lw.wg.Add(1)
	go lw.loop()
}

// Stop ends watching and waits for the loop to exit
func (lw *LibraryWatcher) Stop() {
	close(lw.quit)
	lw.watcher.Close()
	lw.wg.Wait()
}

func (lw *LibraryWatcher) loop() {
	defer lw.wg.Done()

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()

	for {
		select {
		case event, ok := <-lw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					if err := lw.watcher.Add(event.Name); err != nil {
						log.Printf("level=warn msg=\"cannot watch directory\" path=%q err=%q", event.Name, err)
					}
				}
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				debounce.Reset(lw.debounce)
			}

		case <-debounce.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			tracks, err := lw.library.List(ctx)
			cancel()
			lw.notify(tracks, err)

		case err, ok := <-lw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("level=error msg=\"library watcher\" err=%q", err)

		case <-lw.quit:
			return
		}
	}
}
