// Package display renders command output: status lines, progress bars,
// tables, and structured json/yaml reports.
package display

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Service provides centralized formatting and output management
type Service struct {
	config *DisplayConfig
	colors ColorSystem
	theme  ColorTheme
	writer io.Writer
}

// NewService creates a display service with the given configuration
func NewService(config *DisplayConfig) *Service {
	if config == nil {
		config = DefaultDisplayConfig()
	}
	config.SetDefaults()

	return &Service{
		config: config,
		colors: NewColorSystem(config.Writer, config.IsColorEnabled()),
		theme:  config.GetColorTheme(),
		writer: config.Writer,
	}
}

// Config returns the active configuration
func (s *Service) Config() *DisplayConfig {
	return s.config
}

// Writer returns the output writer
func (s *Service) Writer() io.Writer {
	return s.writer
}

// structured reports whether output must stay machine readable.
func (s *Service) structured() bool {
	switch s.config.Format() {
	case FormatJSON, FormatYAML:
		return true
	}
	return false
}

// Header prints a section title
func (s *Service) Header(title string) {
	if s.config.QuietMode || s.structured() || s.config.Format() == FormatCompact {
		return
	}
	line := strings.Repeat("=", len(title)+4)
	text := fmt.Sprintf("\n%s\n  %s\n%s\n", line, title, line)
	fmt.Fprint(s.writer, s.colors.Colorize(text, s.theme.Primary))
}

func (s *Service) Success(message string) {
	s.status("OK", message, s.theme.Success)
}

func (s *Service) Warning(message string) {
	s.status("WARN", message, s.theme.Warning)
}

// Error prints message even in quiet mode
func (s *Service) Error(message string) {
	if s.structured() {
		return
	}
	s.print("ERROR", message, s.theme.Error)
}

func (s *Service) Info(message string) {
	s.status("INFO", message, s.theme.Info)
}

// Prompt prints question without a trailing newline. Prompts are shown in
// every mode since they wait for input.
func (s *Service) Prompt(question string) {
	fmt.Fprint(s.writer, s.colors.Colorize(question, s.theme.Primary))
}

// Verbose prints message only in verbose mode
func (s *Service) Verbose(message string) {
	if s.config.VerboseMode {
		s.status("..", message, s.theme.Muted)
	}
}

func (s *Service) status(level, message string, clr Color) {
	if s.config.QuietMode || s.structured() {
		return
	}
	s.print(level, message, clr)
}

func (s *Service) print(level, message string, clr Color) {
	prefix := fmt.Sprintf("[%s]", level)
	fmt.Fprintf(s.writer, "%s %s\n", s.colors.Colorize(prefix, clr), message)
}

// Render writes v in the configured structured format. Table and compact
// formats fall back to a plain %v rendering.
func (s *Service) Render(v interface{}) error {
	switch s.config.Format() {
	case FormatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format JSON: %w", err)
		}
		_, err = fmt.Fprintln(s.writer, string(data))
		return err
	case FormatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to format YAML: %w", err)
		}
		_, err = s.writer.Write(data)
		return err
	default:
		_, err := fmt.Fprintf(s.writer, "%v\n", v)
		return err
	}
}

// NewTable creates a table sized to the terminal or the configured width
func (s *Service) NewTable() *Table {
	width := s.config.MaxTableWidth
	if tw := terminalWidth(s.writer); tw > 0 && tw < width {
		width = tw
	}
	return NewTable(s.colors, s.theme, width)
}

// NewProgressBar creates a bar that only draws in interactive table output
func (s *Service) NewProgressBar(total int64, message string) *ProgressBar {
	enabled := s.config.IsProgressEnabled() && s.config.Format() == FormatTable
	return NewProgressBar(total, message, s.writer, s.colors, s.theme, enabled)
}

// FormatBytes renders a byte count with a binary unit
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
