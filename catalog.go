package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// catalogSong is the song document served by the music backend. Album
// holds the album document's ID.
type catalogSong struct {
	ID          string `json:"_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Singer      string `json:"singer"`
	Album       string `json:"album"`
	Thumbnail   struct {
		URL string `json:"url"`
	} `json:"thumbnail"`
	Audio struct {
		URL string `json:"url"`
	} `json:"audio"`
}

type catalogAlbum struct {
	ID    string `json:"_id"`
	Title string `json:"title"`
}

// track maps s onto a Track. Album IDs missing from albums are dropped.
func (s catalogSong) track(albums map[string]string) Track {
	return Track{
		ID:           s.ID,
		Title:        s.Title,
		Description:  s.Description,
		Singer:       s.Singer,
		Album:        albums[s.Album],
		MediaURL:     s.Audio.URL,
		ThumbnailURL: s.Thumbnail.URL,
	}
}

// Catalog is a TrackSource backed by the music backend's song API
type Catalog struct {
	base   *url.URL
	client *http.Client

	mu     sync.RWMutex
	albums map[string]string // album ID -> title
}

// NewCatalog creates a catalog client for the backend at baseURL
func NewCatalog(baseURL string) (*Catalog, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse catalog url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("catalog url must be http or https, got %q", baseURL)
	}
	return &Catalog{
		base:   u,
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (c *Catalog) get(ctx context.Context, path string, v interface{}) error {
	endpoint := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("catalog %s failed with status: %d", endpoint.Path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode catalog response: %w", err)
	}
	return nil
}

// List returns every song in the catalog in backend order. Album names
// are refreshed along the way; without them tracks carry no album.
func (c *Catalog) List(ctx context.Context) ([]Track, error) {
	var songs []catalogSong
	if err := c.get(ctx, "/api/song/all", &songs); err != nil {
		return nil, err
	}
	if err := c.loadAlbums(ctx); err != nil {
		log.Printf("level=warn msg=\"album names unavailable\" err=%q", err)
	}

	albums := c.albumTitles()
	tracks := make([]Track, 0, len(songs))
	for _, s := range songs {
		tracks = append(tracks, s.track(albums))
	}
	return tracks, nil
}

func (c *Catalog) loadAlbums(ctx context.Context) error {
	var list []catalogAlbum
	if err := c.get(ctx, "/api/song/album/all", &list); err != nil {
		return err
	}
	albums := make(map[string]string, len(list))
	for _, a := range list {
		albums[a.ID] = a.Title
	}
	c.mu.Lock()
	c.albums = albums
	c.mu.Unlock()
	return nil
}

func (c *Catalog) albumTitles() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.albums
}

// Details fetches the single-song document for t
func (c *Catalog) Details(ctx context.Context, t Track) (Track, error) {
	var song catalogSong
	if err := c.get(ctx, "/api/song/single/"+url.PathEscape(t.ID), &song); err != nil {
		return Track{}, err
	}
	if song.ID == "" {
		song.ID = t.ID
	}
	return song.track(c.albumTitles()), nil
}
