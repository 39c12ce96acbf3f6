package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/EdlinOrg/prominentcolor"
	"github.com/dhowden/tag"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp"
)

// errNoArtwork means the track has no thumbnail and the default image applies
var errNoArtwork = errors.New("no artwork")

// maxArtworkBytes caps downloaded and embedded thumbnails
const maxArtworkBytes = 10 << 20

// kittyImageID is the fixed image slot used for the thumbnail
const kittyImageID = 42

var artworkClient = &http.Client{Timeout: 10 * time.Second}

// fetchArtwork reads the raw image bytes behind a thumbnail locator. Locators
// may be http(s) URLs, data: URIs, file URLs or paths; audio files yield
// their embedded cover.
func fetchArtwork(ctx context.Context, locator string) ([]byte, error) {
	switch {
	case locator == "":
		return nil, errNoArtwork
	case strings.HasPrefix(locator, "data:"):
		return decodeDataURI(locator)
	case strings.HasPrefix(locator, "http://"), strings.HasPrefix(locator, "https://"):
		return downloadArtwork(ctx, locator)
	}

	path, err := filePath(locator)
	if err != nil {
		return nil, err
	}
	if audioExtensions[strings.ToLower(filepath.Ext(path))] {
		return embeddedArtwork(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artwork: %w", err)
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, maxArtworkBytes))
}

func downloadArtwork(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := artworkClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("artwork download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("artwork download failed with status: %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxArtworkBytes))
}

// decodeDataURI returns the payload of a data: URI
func decodeDataURI(uri string) ([]byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("malformed data uri")
	}
	if strings.HasSuffix(meta, ";base64") {
		return base64.StdEncoding.DecodeString(payload)
	}
	return []byte(payload), nil
}

// embeddedArtwork returns the cover picture stored in an audio file's tags
func embeddedArtwork(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		if errors.Is(err, tag.ErrNoTagsFound) {
			return nil, errNoArtwork
		}
		return nil, fmt.Errorf("read tags: %w", err)
	}
	pic := m.Picture()
	if pic == nil || len(pic.Data) == 0 {
		return nil, errNoArtwork
	}
	return pic.Data, nil
}

// decodeArtworkData decodes raw or base64-encoded image data
func decodeArtworkData(imgData []byte) (image.Image, error) {
	if len(imgData) == 0 {
		return nil, fmt.Errorf("empty image data")
	}
	img, _, err := image.Decode(bytes.NewReader(imgData))
	if err == nil {
		return img, nil
	}
	if decoded, b64err := base64.StdEncoding.DecodeString(string(imgData)); b64err == nil {
		if img, _, err2 := image.Decode(bytes.NewReader(decoded)); err2 == nil {
			return img, nil
		}
	}
	return nil, fmt.Errorf("failed to decode image: %w", err)
}

// defaultArtwork draws the placeholder cover for tracks without a thumbnail.
// The palette is derived from seed so each track keeps its own colors.
func defaultArtwork(seed string) image.Image {
	const size = 128
	h := fnv.New32a()
	h.Write([]byte(seed))
	sum := h.Sum32()

	from := color.RGBA{uint8(sum >> 24), uint8(sum >> 16), 160, 255}
	to := color.RGBA{40, uint8(sum >> 8), uint8(sum), 255}
	mix := func(a, b uint8, t float64) uint8 {
		return uint8(float64(a)*(1-t) + float64(b)*t)
	}

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	center := float64(size) / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x)-center, float64(y)-center
			if dx*dx+dy*dy < 64 {
				// spindle hole
				img.Set(x, y, color.RGBA{20, 20, 20, 255})
				continue
			}
			t := float64(x+y) / float64(2*size)
			img.Set(x, y, color.RGBA{
				R: mix(from.R, to.R, t),
				G: mix(from.G, to.G, t),
				B: mix(from.B, to.B, t),
				A: 255,
			})
		}
	}
	return img
}

// lightSat returns HSL lightness and saturation of an 8-bit color
func lightSat(r, g, b uint8) (lightness, saturation float64) {
	rf, gf, bf := float64(r)/255, float64(g)/255, float64(b)/255
	hi := max(rf, gf, bf)
	lo := min(rf, gf, bf)
	lightness = (hi + lo) / 2
	if hi == lo {
		return lightness, 0
	}
	if lightness > 0.5 {
		return lightness, (hi - lo) / (2 - hi - lo)
	}
	return lightness, (hi - lo) / (hi + lo)
}

// extractDominantColor picks a vibrant color readable on dark backgrounds
func extractDominantColor(img image.Image) (string, error) {
	if img == nil {
		return "", fmt.Errorf("nil image")
	}

	const sampleRate = 5
	counts := make(map[uint32]int)
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y += sampleRate {
		for x := b.Min.X; x < b.Max.X; x += sampleRate {
			r, g, bl, a := img.At(x, y).RGBA()
			if a < 0x8000 {
				continue
			}
			counts[(r>>8)<<16|(g>>8)<<8|bl>>8]++
		}
	}

	type candidate struct {
		rgb   uint32
		score float64
	}
	var candidates []candidate
	for rgb, n := range counts {
		l, s := lightSat(uint8(rgb>>16), uint8(rgb>>8), uint8(rgb))
		if l < 0.3 || l > 0.85 || s < 0.25 {
			continue
		}
		if l > 0.7 {
			l = 1.4 - l
		}
		candidates = append(candidates, candidate{rgb, s*2.5 + l*1.5 + float64(n)/1000})
	}

	if len(candidates) == 0 {
		colors, err := prominentcolor.Kmeans(img)
		if err != nil || len(colors) == 0 {
			return "", fmt.Errorf("no suitable colors found")
		}
		c := colors[0].Color
		return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B), nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score == candidates[j].score {
			return candidates[i].rgb < candidates[j].rgb
		}
		return candidates[i].score > candidates[j].score
	})
	best := candidates[0].rgb
	return fmt.Sprintf("#%02x%02x%02x", uint8(best>>16), uint8(best>>8), uint8(best)), nil
}

// supportsKittyGraphics reports whether the terminal speaks the Kitty graphics protocol
func supportsKittyGraphics() bool {
	if os.Getenv("KITTY_WINDOW_ID") != "" {
		return true
	}
	term := os.Getenv("TERM")
	if strings.Contains(term, "kitty") || strings.Contains(term, "konsole") {
		return true
	}
	switch os.Getenv("TERM_PROGRAM") {
	case "ghostty", "WezTerm":
		return true
	}
	return false
}

// kittyDeleteAll removes every placed image
const kittyDeleteAll = "\033_Ga=d,d=A\033\\"

// encodeArtworkForKitty scales img to widthPixels and emits Kitty graphics
// escapes placing it across columns terminal cells
func encodeArtworkForKitty(img image.Image, widthPixels, columns int) (string, error) {
	if img == nil {
		return "", fmt.Errorf("nil image")
	}

	resized := resize.Resize(uint(widthPixels), 0, img, resize.Lanczos3)
	var buf bytes.Buffer
	if err := png.Encode(&buf, resized); err != nil {
		return "", fmt.Errorf("failed to encode PNG: %w", err)
	}
	payload := base64.StdEncoding.EncodeToString(buf.Bytes())

	// Payloads go out in chunks of at most 4096 bytes; m=1 marks more to come
	const chunkSize = 4096
	var out strings.Builder
	fmt.Fprintf(&out, "\033_Ga=d,d=I,i=%d\033\\", kittyImageID)
	for start := 0; start < len(payload); start += chunkSize {
		end := min(start+chunkSize, len(payload))
		more := 0
		if end < len(payload) {
			more = 1
		}
		if start == 0 {
			fmt.Fprintf(&out, "\033_Ga=T,f=100,t=d,i=%d,c=%d,C=1,m=%d;%s\033\\",
				kittyImageID, columns, more, payload[start:end])
		} else {
			fmt.Fprintf(&out, "\033_Gm=%d;%s\033\\", more, payload[start:end])
		}
	}
	return out.String(), nil
}

// artworkResult is a rendered thumbnail for one track
type artworkResult struct {
	color   string
	encoded string
}

// processArtwork decodes data once (falling back to the default cover) and
// returns the Kitty escapes plus, if requested, its dominant color
func processArtwork(data []byte, seed string, extractColor bool, widthPixels, columns int) (artworkResult, error) {
	img, err := decodeArtworkData(data)
	if err != nil {
		img = defaultArtwork(seed)
	}

	var res artworkResult
	if extractColor {
		if c, err := extractDominantColor(img); err == nil {
			res.color = c
		}
	}
	enc, err := encodeArtworkForKitty(img, widthPixels, columns)
	if err != nil {
		return res, err
	}
	res.encoded = enc
	return res, nil
}
