package display

import (
	"fmt"
	"io"
	"os"
	"strings"

	apperrors "mysql-porter/internal/errors"
)

// OutputFormat selects how reports are rendered
type OutputFormat string

const (
	FormatTable   OutputFormat = "table"
	FormatJSON    OutputFormat = "json"
	FormatYAML    OutputFormat = "yaml"
	FormatCompact OutputFormat = "compact"
)

// ThemeName represents available color themes
type ThemeName string

const (
	ThemeDark         ThemeName = "dark"
	ThemeLight        ThemeName = "light"
	ThemeHighContrast ThemeName = "high-contrast"
	ThemeAuto         ThemeName = "auto"
)

// DisplayConfig holds configuration for terminal output
type DisplayConfig struct {
	ColorEnabled bool   `mapstructure:"color_enabled" yaml:"color_enabled"`
	Theme        string `mapstructure:"theme" yaml:"theme"`
	OutputFormat string `mapstructure:"output_format" yaml:"output_format"`
	ShowProgress bool   `mapstructure:"show_progress" yaml:"show_progress"`

	VerboseMode bool `mapstructure:"verbose" yaml:"verbose"`
	QuietMode   bool `mapstructure:"quiet" yaml:"quiet"`

	// MaxTableWidth bounds the width of rendered tables, including borders.
	MaxTableWidth int `mapstructure:"max_table_width" yaml:"max_table_width"`

	Writer io.Writer `mapstructure:"-" yaml:"-"`
}

// DefaultDisplayConfig returns a default display configuration
func DefaultDisplayConfig() *DisplayConfig {
	return &DisplayConfig{
		ColorEnabled:  true,
		Theme:         string(ThemeDark),
		OutputFormat:  string(FormatTable),
		ShowProgress:  true,
		MaxTableWidth: 120,
		Writer:        os.Stdout,
	}
}

// Validate validates the display configuration
func (dc *DisplayConfig) Validate() error {
	var errs apperrors.ValidationErrors

	validThemes := []string{string(ThemeDark), string(ThemeLight), string(ThemeHighContrast), string(ThemeAuto)}
	if !contains(validThemes, dc.Theme) {
		errs.Add("theme", fmt.Sprintf("must be one of: %s", strings.Join(validThemes, ", ")), dc.Theme)
	}

	validFormats := []string{string(FormatTable), string(FormatJSON), string(FormatYAML), string(FormatCompact)}
	if !contains(validFormats, dc.OutputFormat) {
		errs.Add("output_format", fmt.Sprintf("must be one of: %s", strings.Join(validFormats, ", ")), dc.OutputFormat)
	}

	if dc.MaxTableWidth < 40 || dc.MaxTableWidth > 300 {
		errs.Add("max_table_width", "must be between 40 and 300", dc.MaxTableWidth)
	}

	if dc.VerboseMode && dc.QuietMode {
		errs.Add("quiet", "verbose and quiet modes are mutually exclusive", dc.QuietMode)
	}

	return errs.Err()
}

// SetDefaults sets default values for unspecified configuration options
func (dc *DisplayConfig) SetDefaults() {
	if dc.Theme == "" {
		dc.Theme = string(ThemeDark)
	}
	if dc.OutputFormat == "" {
		dc.OutputFormat = string(FormatTable)
	}
	if dc.MaxTableWidth == 0 {
		dc.MaxTableWidth = 120
	}
	if dc.Writer == nil {
		dc.Writer = os.Stdout
	}
}

// Format returns the configured output format
func (dc *DisplayConfig) Format() OutputFormat {
	return OutputFormat(dc.OutputFormat)
}

// GetColorTheme returns the ColorTheme based on the theme name
func (dc *DisplayConfig) GetColorTheme() ColorTheme {
	return GetThemeByName(dc.Theme)
}

// IsColorEnabled returns true if colors should be used
func (dc *DisplayConfig) IsColorEnabled() bool {
	return dc.ColorEnabled && !dc.QuietMode
}

// IsProgressEnabled returns true if progress indicators should be shown
func (dc *DisplayConfig) IsProgressEnabled() bool {
	return dc.ShowProgress && !dc.QuietMode
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
