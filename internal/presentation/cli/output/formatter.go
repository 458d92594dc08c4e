// Package output provides CLI output formatting utilities.
// It supports table, JSON, and colored text output with thread-safe writes.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Format represents the output format type.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatText  Format = "text"
)

// Color represents ANSI color codes for terminal output.
type Color string

const (
	ColorReset  Color = "\033[0m"
	ColorRed    Color = "\033[31m"
	ColorGreen  Color = "\033[32m"
	ColorYellow Color = "\033[33m"
	ColorBlue   Color = "\033[34m"
	ColorCyan   Color = "\033[36m"
	ColorBold   Color = "\033[1m"
	ColorDim    Color = "\033[2m"
)

// Formatter writes command output in the selected format.
type Formatter struct {
	mu           sync.Mutex
	writer       io.Writer
	format       Format
	colorEnabled bool
	indent       string
}

// Option is a functional option for configuring a Formatter.
type Option func(*Formatter)

// NewFormatter creates a new Formatter with the given options.
func NewFormatter(opts ...Option) *Formatter {
	f := &Formatter{
		writer:       os.Stdout,
		format:       FormatText,
		colorEnabled: true,
		indent:       "  ",
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WithWriter sets the output writer.
func WithWriter(w io.Writer) Option {
	return func(f *Formatter) { f.writer = w }
}

// WithFormat sets the output format.
func WithFormat(format Format) Option {
	return func(f *Formatter) { f.format = format }
}

// WithColor enables or disables colored output.
func WithColor(enabled bool) Option {
	return func(f *Formatter) { f.colorEnabled = enabled }
}

// Format returns the current output format.
func (f *Formatter) Format() Format {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.format
}

// IsJSON reports whether output is machine readable.
func (f *Formatter) IsJSON() bool {
	return f.Format() == FormatJSON
}

// Writer returns the underlying writer.
func (f *Formatter) Writer() io.Writer {
	return f.writer
}

// Print writes formatted output without a newline.
func (f *Formatter) Print(format string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := fmt.Fprintf(f.writer, format, args...)
	return err
}

// Println writes formatted output with a newline.
func (f *Formatter) Println(format string, args ...any) error {
	return f.Print(format+"\n", args...)
}

// Colorize wraps text with ANSI color codes if color is enabled.
func (f *Formatter) Colorize(text string, color Color) string {
	f.mu.Lock()
	enabled := f.colorEnabled
	f.mu.Unlock()
	if !enabled {
		return text
	}
	return string(color) + text + string(ColorReset)
}

func (f *Formatter) status(symbol string, color Color, format string, args ...any) error {
	return f.Println("%s", f.Colorize(symbol+" "+fmt.Sprintf(format, args...), color))
}

// Success prints a success message in green.
func (f *Formatter) Success(format string, args ...any) error {
	return f.status("✓", ColorGreen, format, args...)
}

// Error prints an error message in red.
func (f *Formatter) Error(format string, args ...any) error {
	return f.status("✗", ColorRed, format, args...)
}

// Warning prints a warning message in yellow.
func (f *Formatter) Warning(format string, args ...any) error {
	return f.status("⚠", ColorYellow, format, args...)
}

// Info prints an info message in blue.
func (f *Formatter) Info(format string, args ...any) error {
	return f.status("ℹ", ColorBlue, format, args...)
}

// Bold returns text in bold.
func (f *Formatter) Bold(text string) string {
	return f.Colorize(text, ColorBold)
}

// Dim returns text in a muted style.
func (f *Formatter) Dim(text string) string {
	return f.Colorize(text, ColorDim)
}

// Header outputs a section header with underline.
func (f *Formatter) Header(msg string) error {
	return f.Println("%s\n%s", f.Bold(msg), strings.Repeat("─", len([]rune(msg))))
}

// Item outputs a key-value pair for structured display.
func (f *Formatter) Item(key, value string) error {
	return f.Println("  %s: %s", f.Dim(key), value)
}

// Alignment defines text alignment in table cells.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// TableColumn defines a column in a table.
type TableColumn struct {
	Header string
	Align  Alignment
}

// TableData represents data for table formatting.
type TableData struct {
	Columns []TableColumn
	Rows    [][]string
}

// Table writes data as an aligned table.
func (f *Formatter) Table(data TableData) error {
	if len(data.Columns) == 0 {
		return nil
	}

	widths := make([]int, len(data.Columns))
	for i, col := range data.Columns {
		widths[i] = len([]rune(col.Header))
	}
	for _, row := range data.Rows {
		for i, cell := range row {
			if i < len(widths) && len([]rune(cell)) > widths[i] {
				widths[i] = len([]rune(cell))
			}
		}
	}

	line := func(cells []string) string {
		parts := make([]string, len(data.Columns))
		for i := range data.Columns {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			parts[i] = pad(cell, widths[i], data.Columns[i].Align)
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	headers := make([]string, len(data.Columns))
	rules := make([]string, len(data.Columns))
	for i, col := range data.Columns {
		headers[i] = col.Header
		rules[i] = strings.Repeat("-", widths[i])
	}

	if err := f.Println("%s", f.Bold(line(headers))); err != nil {
		return err
	}
	if err := f.Println("%s", line(rules)); err != nil {
		return err
	}
	for _, row := range data.Rows {
		if err := f.Println("%s", line(row)); err != nil {
			return err
		}
	}
	return nil
}

func pad(text string, width int, align Alignment) string {
	n := width - len([]rune(text))
	if n <= 0 {
		return text
	}
	if align == AlignRight {
		return strings.Repeat(" ", n) + text
	}
	return text + strings.Repeat(" ", n)
}

// JSON writes data as indented JSON.
func (f *Formatter) JSON(data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", f.indent)
	return encoder.Encode(data)
}

// Render writes data as JSON in JSON mode, otherwise as the given table.
func (f *Formatter) Render(data any, table TableData) error {
	if f.IsJSON() {
		return f.JSON(data)
	}
	return f.Table(table)
}

// ParseFormat parses a string into a Format type.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "table":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "text", "":
		return FormatText, nil
	default:
		return FormatText, fmt.Errorf("unknown format: %s", s)
	}
}

// Truncate shortens s to max runes, marking the cut with an ellipsis.
func Truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	if max == 1 {
		return "…"
	}
	return string(r[:max-1]) + "…"
}

// ShortID returns the first eight characters of an ID.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// RelativeTime describes t relative to now, such as "3m ago".
func RelativeTime(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// Spinner shows progress for a long-running operation.
type Spinner struct {
	mu       sync.Mutex
	frames   []string
	index    int
	message  string
	writer   io.Writer
	running  bool
	done     chan struct{}
	stopped  chan struct{}
	interval time.Duration
	colored  bool
}

// NewSpinner creates a spinner writing to w.
func NewSpinner(message string, w io.Writer, colored bool) *Spinner {
	return &Spinner{
		frames:   []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		message:  message,
		writer:   w,
		interval: 80 * time.Millisecond,
		colored:  colored,
	}
}

// Start begins the animation.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})
	go s.animate()
}

// Stop ends the animation and clears the line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	stopped := s.stopped
	width := len([]rune(s.message)) + 2
	s.mu.Unlock()

	<-stopped
	_, _ = fmt.Fprintf(s.writer, "\r%s\r", strings.Repeat(" ", width))
}

// UpdateMessage replaces the spinner message.
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = message
}

func (s *Spinner) animate() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.stopped)

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			frame := s.frames[s.index]
			s.index = (s.index + 1) % len(s.frames)
			message := s.message
			s.mu.Unlock()

			if s.colored {
				frame = string(ColorCyan) + frame + string(ColorReset)
			}
			_, _ = fmt.Fprintf(s.writer, "\r%s %s", frame, message)
		}
	}
}
