package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// queueRows is how many tracks the queue view shows at once
const queueRows = 8

type styles struct {
	highlight lipgloss.Style
	white     lipgloss.Style
	label     lipgloss.Style
	muted     lipgloss.Style
	dim       lipgloss.Style
	errorLine lipgloss.Style
	border    lipgloss.Style
}

func newStyles(c string) styles {
	color := lipgloss.Color(c)
	return styles{
		highlight: lipgloss.NewStyle().Foreground(color),
		white:     lipgloss.NewStyle().Foreground(lipgloss.Color("15")),
		label:     lipgloss.NewStyle().Foreground(color).Bold(true),
		muted:     lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		errorLine: lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
		border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(color).
			Padding(1, 2),
	}
}

func (m model) View() string {
	cfg := config.Get()
	st := newStyles(m.color)
	snap := m.session.Snapshot()

	var body string
	var footer string
	switch {
	case m.showQueue:
		body = m.queueView(st)
	case !snap.Loaded:
		body = st.highlight.Render("󰓃 Now Playing") + "\n\n" +
			st.muted.Render("Nothing playing") + "\n\n" +
			st.dim.Render("Press L to pick a track")
	default:
		body = m.nowPlayingView(st, snap)
		footer = m.progressView(st, snap, cfg.UI.MaxWidth)
	}

	if m.lastError != nil {
		body += "\n\n" + st.errorLine.Render(truncateText(m.lastError.Error(), cfg.UI.MaxWidth))
	}

	var top string
	showArt := m.artworkEncoded != "" && m.artworkVisible() && snap.Loaded && !m.showQueue
	switch {
	case showArt:
		var deleteCmd string
		if m.forceDeleteImg {
			deleteCmd = kittyDeleteAll
		}
		top = deleteCmd + m.artworkEncoded + lipgloss.NewStyle().
			PaddingLeft(cfg.Artwork.Padding).
			Render(body)
	case m.supportsKitty:
		// Clear any image left from a previous track
		top = kittyDeleteAll + body
	default:
		top = body
	}

	content := st.border.Width(cfg.UI.MaxWidth).Render(top + footer)

	ui := lipgloss.JoinVertical(lipgloss.Center, content, "\n"+m.helpView(st, cfg.UI.MaxWidth))
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, ui)
}

func (m model) nowPlayingView(st styles, snap Snapshot) string {
	cfg := config.Get()
	maxLen := m.textWidth()

	var b strings.Builder
	b.WriteString(st.highlight.Render("󰓃 Now Playing") + "\n\n")
	addLine := func(icon, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s %s\n", st.label.Render(icon), value)
		}
	}

	t := snap.Track
	addLine("󰎈 ", scrollText(t.DisplayTitle(), maxLen, m.scrollOffset))
	addLine("󰠃 ", scrollText(t.Singer, maxLen, m.scrollOffset))
	addLine("󰀥 ", scrollText(t.Album, maxLen, m.scrollOffset))
	if t.Description != "" && cfg.Text.DescriptionLength > 0 {
		addLine("󰍩 ", st.dim.Render(truncateText(t.Description, min(cfg.Text.DescriptionLength, maxLen))))
	}

	switch {
	case snap.Playing:
		addLine("󰐊 ", "Playing")
	case snap.Pending:
		addLine("󰔟 ", "Starting...")
	default:
		addLine("󰏤 ", "Paused")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m model) progressView(st styles, snap Snapshot, maxWidth int) string {
	// Leave room for the timestamps
	barWidth := maxWidth - 17
	var progress float64
	pos := m.currentPosition()
	if snap.Duration > 0 {
		progress = pos / snap.Duration
	}
	filled := barFill(progress, barWidth)
	bar := st.highlight.Render(strings.Repeat("█", filled)) +
		st.white.Render(strings.Repeat("─", max(barWidth-filled, 0)))

	total := "--:--"
	if snap.Duration > 0 {
		total = formatSeconds(snap.Duration)
	}

	volWidth := 10
	volFilled := barFill(snap.Volume, volWidth)
	vol := st.highlight.Render(strings.Repeat("▮", volFilled)) +
		st.muted.Render(strings.Repeat("▯", volWidth-volFilled))

	return fmt.Sprintf("\n\n%s %s/%s\n%s %s %s",
		bar,
		st.highlight.Render(formatSeconds(pos)),
		st.highlight.Render(total),
		st.label.Render("󰕾 "),
		vol,
		st.dim.Render(fmt.Sprintf("%3.0f%%", snap.Volume*100)),
	)
}

func (m model) queueView(st styles) string {
	tracks := m.playlist.Tracks()
	current := m.session.Snapshot().Track.ID

	var b strings.Builder
	b.WriteString(st.highlight.Render("󰲸 Queue") + "\n\n")
	if len(tracks) == 0 {
		b.WriteString(st.muted.Render("No tracks found"))
		return b.String()
	}

	start := 0
	if m.queueCursor >= queueRows {
		start = m.queueCursor - queueRows + 1
	}
	end := min(start+queueRows, len(tracks))
	width := config.Get().Text.MaxLengthNoArt

	for i := start; i < end; i++ {
		t := tracks[i]
		cursor := "  "
		if i == m.queueCursor {
			cursor = st.label.Render("> ")
		}
		name := truncateText(t.DisplayTitle(), width)
		switch {
		case t.ID == current:
			name = st.highlight.Render(name)
		case !t.Playable():
			name = st.muted.Render(name)
		}
		b.WriteString(cursor + name)
		if i < end-1 {
			b.WriteString("\n")
		}
	}
	if len(tracks) > queueRows {
		fmt.Fprintf(&b, "\n%s", st.dim.Render(fmt.Sprintf("%d/%d", m.queueCursor+1, len(tracks))))
	}
	return b.String()
}

func (m model) helpView(st styles, maxWidth int) string {
	if !m.showHelp {
		return st.muted.Render("Press ? for help")
	}
	h := st.highlight.Render
	var pairs []string
	if m.showQueue {
		pairs = []string{
			"Move: " + h("j/k"),
			"Play: " + h("enter"),
			"Close: " + h("L"),
		}
	} else {
		pairs = []string{
			"Play/Pause: " + h("p"),
			"Next: " + h("n"),
			"Previous: " + h("b"),
			"Seek: " + h("←/→"),
			"Jump: " + h("0-9"),
			"Volume: " + h("+/-"),
			"Queue: " + h("L"),
			"Toggle Art: " + h("a"),
		}
	}
	pairs = append(pairs, "Quit: "+h("q"), "Hide: "+h("?"))
	return lipgloss.NewStyle().
		Width(maxWidth).
		Align(lipgloss.Center).
		Render(strings.Join(pairs, "  "))
}
