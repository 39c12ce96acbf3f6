package main

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/charmbracelet/bubbletea"
)

// detailsTimeout bounds a single track detail refresh
const detailsTimeout = 10 * time.Second

// snapshotPublisher receives the session state whenever it changes
type snapshotPublisher interface {
	Publish(Snapshot)
}

// model is the Bubble Tea model for the TUI application. It is the only
// caller of the session, so every mutation runs on the event loop.
type model struct {
	session   *Session
	playlist  *Playlist
	publisher snapshotPublisher

	color     string
	width     int
	height    int
	lastError error

	// For smooth position interpolation
	positionAt time.Time // when the session position was last set

	// Album artwork support
	artworkEncoded string
	artworkTrackID string // track the artwork belongs to
	artworkSource  string // thumbnail locator it was loaded from
	supportsKitty  bool
	forceDeleteImg bool

	// Text scrolling state
	scrollOffset int
	scrollPause  int
	scrollTick   int

	// UI state
	showHelp    bool
	showQueue   bool
	queueCursor int

	published Snapshot
	hasPub    bool
}

// UI refresh tick
type tickMsg time.Time

// deviceEventMsg carries one event from the audio output
type deviceEventMsg DeviceEvent

// deviceClosedMsg means the audio output stopped delivering events
type deviceClosedMsg struct{}

// playResultMsg is the device's answer to a play request
type playResultMsg struct {
	req *PlayRequest
	err error
}

// trackDetailsMsg is a refreshed copy of the selected track
type trackDetailsMsg struct {
	track Track
	err   error
}

// artworkMsg is a rendered thumbnail
type artworkMsg struct {
	trackID string
	source  string
	result  artworkResult
	err     error
}

// libraryMsg is the result of a library rescan
type libraryMsg struct {
	tracks []Track
	err    error
}

func newModel(session *Session, playlist *Playlist, publisher snapshotPublisher) model {
	cfg := config.Get()
	return model{
		session:       session,
		playlist:      playlist,
		publisher:     publisher,
		color:         cfg.UI.Color,
		supportsKitty: supportsKittyGraphics(),
		positionAt:    time.Now(),
		scrollPause:   30,
	}
}

// Schedule next UI refresh tick
func tickCmd() tea.Cmd {
	cfg := config.Get()
	return tea.Tick(time.Duration(cfg.Timing.UIRefreshMs)*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForDeviceEvent delivers the next device event
func waitForDeviceEvent(events <-chan DeviceEvent) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return deviceClosedMsg{}
		}
		return deviceEventMsg(ev)
	}
}

// waitForPlay delivers the acknowledgement of req
func waitForPlay(req *PlayRequest) tea.Cmd {
	if req == nil {
		return nil
	}
	return func() tea.Msg {
		return playResultMsg{req: req, err: <-req.Done}
	}
}

// fetchDetailsCmd refreshes the selected track off the event loop
func fetchDetailsCmd(p *Playlist) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), detailsTimeout)
		defer cancel()
		t, err := p.FetchTrackDetails(ctx)
		return trackDetailsMsg{track: t, err: err}
	}
}

// loadArtworkCmd fetches and renders the thumbnail for t
func loadArtworkCmd(t Track) tea.Cmd {
	cfg := config.Get()
	return func() tea.Msg {
		msg := artworkMsg{trackID: t.ID, source: t.ThumbnailURL}
		ctx, cancel := context.WithTimeout(context.Background(), detailsTimeout)
		defer cancel()

		data, err := fetchArtwork(ctx, t.ThumbnailURL)
		if err != nil && !errors.Is(err, errNoArtwork) {
			log.Printf("level=warn msg=\"artwork unavailable\" track=%q err=%q", t.ID, err)
		}
		msg.result, msg.err = processArtwork(data, t.ID, cfg.UI.ColorMode == "auto",
			cfg.Artwork.WidthPixels, cfg.Artwork.WidthColumns)
		return msg
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		watchConfigCmd(),
		waitForDeviceEvent(m.session.Events()),
		m.trackChanged(nil),
	)
}

// currentPosition interpolates the position between device updates
func (m model) currentPosition() float64 {
	snap := m.session.Snapshot()
	if !snap.Playing {
		return snap.Position
	}
	pos := snap.Position + time.Since(m.positionAt).Seconds()
	if snap.Duration > 0 && pos > snap.Duration {
		pos = snap.Duration
	}
	return pos
}

func (m model) artworkVisible() bool {
	return m.supportsKitty && config.Get().Artwork.Enabled
}

// trackChanged resets per-track UI state after a selection and returns the
// commands following it: waiting on the play start, refreshing details and
// loading artwork
func (m *model) trackChanged(req *PlayRequest) tea.Cmd {
	m.positionAt = time.Now()
	m.scrollOffset = 0
	m.scrollPause = 30
	m.scrollTick = 0

	snap := m.session.Snapshot()
	cmds := []tea.Cmd{waitForPlay(req)}
	if snap.Track.ID == "" {
		m.artworkEncoded = ""
		m.artworkTrackID = ""
		return tea.Batch(cmds...)
	}
	if _, ok := m.playlist.Selected(); ok {
		cmds = append(cmds, fetchDetailsCmd(m.playlist))
	}
	if m.artworkVisible() && snap.Track.ID != m.artworkTrackID {
		cmds = append(cmds, loadArtworkCmd(snap.Track))
	}
	return tea.Batch(cmds...)
}

// afterSelect handles the result of any operation that may change the track
func (m *model) afterSelect(req *PlayRequest, err error) tea.Cmd {
	if err != nil {
		log.Printf("level=error msg=\"select track failed\" err=%q", err)
		m.lastError = err
	} else {
		m.lastError = nil
	}
	return m.trackChanged(req)
}

// seekBy moves the position by delta percent
func (m *model) seekBy(delta float64) {
	snap := m.session.Snapshot()
	if snap.Duration <= 0 {
		return
	}
	pct := m.currentPosition()/snap.Duration*100 + delta
	m.seekTo(clamp(pct, 0, 100))
}

func (m *model) seekTo(pct float64) {
	if err := m.session.Seek(pct); err != nil {
		m.lastError = err
		return
	}
	m.positionAt = time.Now()
}

// volumeBy changes the volume by delta, clamped to [0, 1]
func (m *model) volumeBy(delta float64) {
	level := clamp(m.session.Snapshot().Volume+delta, 0, 1)
	if err := m.session.SetVolume(level); err != nil {
		m.lastError = err
	}
}

func (m *model) togglePlay() tea.Cmd {
	req, err := m.session.TogglePlayPause()
	if err != nil {
		m.lastError = err
		return nil
	}
	m.positionAt = time.Now()
	return waitForPlay(req)
}

// selectQueued plays the track under the queue cursor
func (m *model) selectQueued() tea.Cmd {
	tracks := m.playlist.Tracks()
	if m.queueCursor < 0 || m.queueCursor >= len(tracks) {
		return nil
	}
	t, ok := m.playlist.Select(tracks[m.queueCursor].ID)
	if !ok {
		return nil
	}
	m.showQueue = false
	return m.afterSelect(m.session.SelectTrack(t))
}

// trackEnded advances or rewinds once the device finished the track
func (m *model) trackEnded() tea.Cmd {
	if config.Get().Player.AutoAdvance {
		if t, ok := m.playlist.Next(); ok {
			return m.afterSelect(m.session.SelectTrack(t))
		}
	}
	if err := m.session.Rewind(); err != nil {
		m.lastError = err
	}
	m.positionAt = time.Now()
	return nil
}

// publish pushes the snapshot to the remote when it changed
func (m *model) publish() {
	if m.publisher == nil {
		return
	}
	snap := m.session.Snapshot()
	if m.hasPub && snap == m.published {
		return
	}
	m.published = snap
	m.hasPub = true
	m.publisher.Publish(snap)
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "q" || key == "ctrl+c" {
		return m, tea.Quit
	}

	if m.showQueue {
		switch key {
		case "L", "esc":
			m.showQueue = false
		case "j", "down":
			if m.queueCursor < len(m.playlist.Tracks())-1 {
				m.queueCursor++
			}
		case "k", "up":
			if m.queueCursor > 0 {
				m.queueCursor--
			}
		case "enter":
			return m, m.selectQueued()
		}
		return m, nil
	}

	cfg := config.Get()
	switch key {
	case "p", " ":
		return m, m.togglePlay()
	case "n":
		return m, m.afterSelect(m.session.Next())
	case "b":
		return m, m.afterSelect(m.session.Previous())
	case "right", "l":
		m.seekBy(cfg.Player.SeekStep)
	case "left", "h":
		m.seekBy(-cfg.Player.SeekStep)
	case "0", "1", "2", "3", "4", "5", "6", "7", "8", "9":
		m.seekTo(float64(key[0]-'0') * 10)
	case "+", "=":
		m.volumeBy(cfg.Player.VolumeStep)
	case "-":
		m.volumeBy(-cfg.Player.VolumeStep)
	case "L":
		m.showQueue = true
		if i := m.playlist.Index(); i >= 0 {
			m.queueCursor = i
		}
	case "a":
		cfg.Artwork.Enabled = !cfg.Artwork.Enabled
		config.Set(cfg)
		if !cfg.Artwork.Enabled {
			m.artworkEncoded = ""
			m.artworkTrackID = ""
		} else if m.supportsKitty && m.session.Loaded() {
			return m, loadArtworkCmd(m.session.Snapshot().Track)
		}
	case "?":
		m.showHelp = !m.showHelp
	}
	return m, nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.forceDeleteImg = true

	case configReloadMsg:
		cfg := config.Get()
		if cfg.UI.ColorMode == "manual" {
			m.color = cfg.UI.Color
		}
		var cmd tea.Cmd
		if !cfg.Artwork.Enabled {
			m.artworkEncoded = ""
			m.artworkTrackID = ""
		} else if m.artworkEncoded == "" && m.supportsKitty && m.session.Loaded() {
			cmd = loadArtworkCmd(m.session.Snapshot().Track)
		}
		return m, tea.Batch(watchConfigCmd(), cmd)

	case tickMsg:
		m.scrollTick++
		m.forceDeleteImg = false
		m.advanceScroll()
		m.publish()
		return m, tickCmd()

	case deviceEventMsg:
		ev := DeviceEvent(msg)
		var cmd tea.Cmd
		if m.session.HandleEvent(ev) {
			cmd = m.trackEnded()
		} else if ev.Kind == EventTimeUpdate {
			m.positionAt = time.Now()
		}
		return m, tea.Batch(waitForDeviceEvent(m.session.Events()), cmd)

	case deviceClosedMsg:
		m.lastError = errors.New("audio output closed")
		log.Printf("level=error msg=\"device event stream closed\"")

	case playResultMsg:
		if err := m.session.ResolvePlay(msg.req, msg.err); err != nil {
			m.lastError = err
		} else if m.session.Snapshot().Playing {
			m.lastError = nil
			m.positionAt = time.Now()
		}

	case trackDetailsMsg:
		if msg.err != nil {
			log.Printf("level=warn msg=\"track details unavailable\" err=%q", msg.err)
			return m, nil
		}
		req, err := m.session.UpdateDetails(msg.track)
		if err != nil {
			m.lastError = err
		}
		var cmds []tea.Cmd
		if req != nil || err != nil {
			m.positionAt = time.Now()
			cmds = append(cmds, waitForPlay(req))
		}
		if m.artworkVisible() && msg.track.ID == m.artworkTrackID && msg.track.ThumbnailURL != m.artworkSource {
			cmds = append(cmds, loadArtworkCmd(msg.track))
		}
		return m, tea.Batch(cmds...)

	case artworkMsg:
		if msg.trackID != m.session.Snapshot().Track.ID || !m.artworkVisible() {
			return m, nil
		}
		if msg.err != nil {
			log.Printf("level=warn msg=\"artwork render failed\" track=%q err=%q", msg.trackID, msg.err)
			return m, nil
		}
		m.artworkEncoded = msg.result.encoded
		m.artworkTrackID = msg.trackID
		m.artworkSource = msg.source
		if config.Get().UI.ColorMode == "auto" && msg.result.color != "" {
			m.color = msg.result.color
		}

	case libraryMsg:
		if msg.err != nil {
			log.Printf("level=warn msg=\"library rescan failed\" err=%q", msg.err)
			return m, nil
		}
		m.playlist.SetTracks(msg.tracks)
		if n := len(msg.tracks); m.queueCursor >= n {
			m.queueCursor = max(n-1, 0)
		}
		if m.session.Snapshot().Track.ID == "" && len(msg.tracks) > 0 {
			if t, ok := m.playlist.Next(); ok {
				return m, m.afterSelect(m.session.SelectTrack(t))
			}
		}

	case remoteMsg:
		return m.handleRemote(msg)
	}

	return m, nil
}

// handleRemote applies an intent received over the remote API and answers
// with the resulting snapshot
func (m model) handleRemote(msg remoteMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var err error
	switch msg.action {
	case remoteToggle:
		cmd = m.togglePlay()
	case remoteNext:
		cmd = m.afterSelect(m.session.Next())
	case remotePrevious:
		cmd = m.afterSelect(m.session.Previous())
	case remoteSeek:
		m.seekTo(msg.value)
	case remoteVolume:
		err = m.session.SetVolume(msg.value)
	case remoteSelect:
		t, ok := m.playlist.Select(msg.id)
		if !ok {
			err = errUnknownTrack
			break
		}
		cmd = m.afterSelect(m.session.SelectTrack(t))
	}
	if err != nil && !errors.Is(err, errUnknownTrack) {
		m.lastError = err
	}
	m.publish()
	if msg.reply != nil {
		msg.reply <- remoteReply{snapshot: m.session.Snapshot(), err: err}
	}
	return m, cmd
}

// advanceScroll moves scrolling text every third tick, pausing at each loop
func (m *model) advanceScroll() {
	if m.scrollPause > 0 {
		m.scrollPause--
		return
	}
	if m.scrollTick%3 != 0 {
		return
	}
	m.scrollOffset++

	t := m.session.Snapshot().Track
	longest := 0
	for _, s := range []string{t.DisplayTitle(), t.Singer, t.Album} {
		longest = max(longest, len([]rune(s)))
	}
	if longest > m.textWidth() && m.scrollOffset >= longest+len([]rune(scrollSeparator)) {
		m.scrollOffset = 0
		m.scrollPause = 30
	}
}

// textWidth is the rune budget for a metadata line
func (m model) textWidth() int {
	cfg := config.Get()
	if m.artworkVisible() && m.artworkEncoded != "" {
		return cfg.Text.MaxLengthWithArt
	}
	return cfg.Text.MaxLengthNoArt
}
