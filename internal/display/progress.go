package display

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// ProgressBar draws a single-line progress indicator. A disabled bar tracks
// counts without writing anything.
type ProgressBar struct {
	mu      sync.Mutex
	current int64
	total   int64
	message string
	width   int
	writer  io.Writer
	colors  ColorSystem
	theme   ColorTheme
	enabled bool
	done    bool
}

// NewProgressBar creates a progress bar writing to writer
func NewProgressBar(total int64, message string, writer io.Writer, colors ColorSystem, theme ColorTheme, enabled bool) *ProgressBar {
	return &ProgressBar{
		total:   total,
		message: message,
		width:   30,
		writer:  writer,
		colors:  colors,
		theme:   theme,
		enabled: enabled,
	}
}

// Update sets the current value and optionally the message
func (pb *ProgressBar) Update(current int64, message string) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.current = current
	if message != "" {
		pb.message = message
	}
	pb.render()
}

// Add advances the bar by n
func (pb *ProgressBar) Add(n int64, message string) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.current += n
	if message != "" {
		pb.message = message
	}
	pb.render()
}

// SetTotal changes the total once it becomes known
func (pb *ProgressBar) SetTotal(total int64) {
	pb.mu.Lock()
	pb.total = total
	pb.mu.Unlock()
}

// Current returns the current value
func (pb *ProgressBar) Current() int64 {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.current
}

// Finish fills the bar and ends the line. Calling it twice is a no-op.
func (pb *ProgressBar) Finish(message string) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if pb.done {
		return
	}
	pb.done = true
	if pb.total > 0 {
		pb.current = pb.total
	}
	if message != "" {
		pb.message = message
	}
	pb.render()
	if pb.enabled {
		fmt.Fprintln(pb.writer)
	}
}

func (pb *ProgressBar) render() {
	if !pb.enabled {
		return
	}
	if pb.total <= 0 {
		fmt.Fprintf(pb.writer, "\r\033[K%d %s", pb.current, pb.message)
		return
	}

	current := pb.current
	if current > pb.total {
		current = pb.total
	}
	percentage := float64(current) / float64(pb.total) * 100
	filled := int(float64(pb.width) * float64(current) / float64(pb.total))

	bar := strings.Repeat("#", filled)
	rest := strings.Repeat("-", pb.width-filled)
	if pb.colors != nil {
		bar = pb.colors.Colorize(bar, pb.theme.Success)
		rest = pb.colors.Colorize(rest, pb.theme.Muted)
	}

	fmt.Fprintf(pb.writer, "\r\033[K[%s%s] %5.1f%% (%d/%d) %s", bar, rest, percentage, current, pb.total, pb.message)
}
