package display

import (
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// Alignment represents column alignment options
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// BorderStyle defines table border characters
type BorderStyle struct {
	Corner     string
	Horizontal string
	Vertical   string
}

// ASCIIBorderStyle draws borders with plain ASCII characters
var ASCIIBorderStyle = BorderStyle{Corner: "+", Horizontal: "-", Vertical: "|"}

// Table renders rows as a bordered, width-limited text table
type Table struct {
	headers    []string
	rows       [][]string
	alignments map[int]Alignment
	border     BorderStyle
	maxWidth   int
	colors     ColorSystem
	theme      ColorTheme
}

// NewTable creates a table limited to maxWidth columns. Cells of the widest
// columns are truncated when the table does not fit.
func NewTable(colors ColorSystem, theme ColorTheme, maxWidth int) *Table {
	return &Table{
		alignments: make(map[int]Alignment),
		border:     ASCIIBorderStyle,
		maxWidth:   maxWidth,
		colors:     colors,
		theme:      theme,
	}
}

// SetHeaders sets the table headers
func (t *Table) SetHeaders(headers ...string) *Table {
	t.headers = headers
	return t
}

// AddRow adds a row to the table
func (t *Table) AddRow(cells ...string) *Table {
	t.rows = append(t.rows, cells)
	return t
}

// AlignRight right-aligns column, typically a number
func (t *Table) AlignRight(column int) *Table {
	t.alignments[column] = AlignRight
	return t
}

// Len returns the number of data rows
func (t *Table) Len() int {
	return len(t.rows)
}

// Render returns the table as text
func (t *Table) Render() string {
	widths := t.columnWidths()
	if len(widths) == 0 {
		return ""
	}
	widths = t.fit(widths)

	var b strings.Builder
	separator := t.separator(widths)
	b.WriteString(separator)
	if len(t.headers) > 0 {
		b.WriteString(t.renderRow(t.headers, widths, true))
		b.WriteString(separator)
	}
	for _, row := range t.rows {
		b.WriteString(t.renderRow(row, widths, false))
	}
	b.WriteString(separator)
	return b.String()
}

// RenderTo writes the table to w
func (t *Table) RenderTo(w io.Writer) error {
	_, err := io.WriteString(w, t.Render())
	return err
}

func (t *Table) columnWidths() []int {
	count := len(t.headers)
	for _, row := range t.rows {
		if len(row) > count {
			count = len(row)
		}
	}
	widths := make([]int, count)
	measure := func(cells []string) {
		for i, cell := range cells {
			if w := utf8.RuneCountInString(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	measure(t.headers)
	for _, row := range t.rows {
		measure(row)
	}
	return widths
}

// fit shrinks the widest column until the table fits maxWidth.
func (t *Table) fit(widths []int) []int {
	if t.maxWidth <= 0 {
		return widths
	}
	total := func() int {
		sum := 1
		for _, w := range widths {
			sum += w + 3
		}
		return sum
	}
	for total() > t.maxWidth {
		widest := 0
		for i, w := range widths {
			if w > widths[widest] {
				widest = i
			}
		}
		if widths[widest] <= 4 {
			break
		}
		widths[widest]--
	}
	return widths
}

func (t *Table) separator(widths []int) string {
	var b strings.Builder
	b.WriteString(t.border.Corner)
	for _, w := range widths {
		b.WriteString(strings.Repeat(t.border.Horizontal, w+2))
		b.WriteString(t.border.Corner)
	}
	b.WriteString("\n")
	return b.String()
}

func (t *Table) renderRow(cells []string, widths []int, header bool) string {
	var b strings.Builder
	b.WriteString(t.border.Vertical)
	for i, w := range widths {
		cell := ""
		if i < len(cells) {
			cell = truncate(cells[i], w)
		}
		pad := strings.Repeat(" ", w-utf8.RuneCountInString(cell))
		if header && t.colors != nil {
			cell = t.colors.Colorize(cell, t.theme.Primary)
		}
		b.WriteString(" ")
		if t.alignments[i] == AlignRight {
			b.WriteString(pad + cell)
		} else {
			b.WriteString(cell + pad)
		}
		b.WriteString(" ")
		b.WriteString(t.border.Vertical)
	}
	b.WriteString("\n")
	return b.String()
}

func truncate(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	if width <= 3 {
		return string([]rune(s)[:width])
	}
	return string([]rune(s)[:width-3]) + "..."
}

// terminalWidth returns the width of w when it is a terminal, or 0.
func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}
