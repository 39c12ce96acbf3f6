package main

import (
	"fmt"
	"math"
	"strings"
)

// scrollSeparator joins the end of a scrolling title back to its start
const scrollSeparator = "  •  "

// formatTime converts seconds to MM:SS format
func formatTime(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// formatSeconds formats a fractional position or duration, "--:--" if unknown
func formatSeconds(seconds float64) string {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return "--:--"
	}
	return formatTime(int64(seconds))
}

// scrollText returns a scrolling window of text with smooth looping
func scrollText(text string, max int, offset int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}

	full := append(runes, []rune(scrollSeparator)...)
	offset %= len(full)

	window := make([]rune, 0, max)
	for i := 0; i < max; i++ {
		window = append(window, full[(offset+i)%len(full)])
	}
	return string(window)
}

// truncateText shortens text to max runes, ending it with "..."
func truncateText(text string, max int) string {
	runes := []rune(strings.TrimSpace(text))
	if max <= 0 {
		return ""
	}
	if len(runes) <= max {
		return string(runes)
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

// barFill returns how many of width cells a bar filled to fraction covers
func barFill(fraction float64, width int) int {
	if width <= 0 || math.IsNaN(fraction) || fraction <= 0 {
		return 0
	}
	if fraction >= 1 {
		return width
	}
	return int(float64(width) * fraction)
}
