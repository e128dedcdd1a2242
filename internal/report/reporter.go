// Package report renders per-account validation stats.
package report

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/fatih/color"
)

// Row is one account's stats snapshot. User is already masked.
type Row struct {
	User         string
	Valid        int64
	Invalid      int64
	LastVerified string
}

// Reporter receives stats rows.
type Reporter interface {
	Report(row Row)
}

// Console prints a table of the latest row per user each time a row arrives.
type Console struct {
	w io.Writer

	mu    sync.Mutex
	order []string
	rows  map[string]Row

	header  *color.Color
	valid   *color.Color
	invalid *color.Color
}

// NewConsole writes tables to w. Colors follow fatih/color's terminal
// detection unless noColor is set.
func NewConsole(w io.Writer, noColor bool) *Console {
	c := &Console{
		w:       w,
		rows:    make(map[string]Row),
		header:  color.New(color.FgCyan, color.Bold),
		valid:   color.New(color.FgGreen),
		invalid: color.New(color.FgRed),
	}
	if noColor {
		c.header.DisableColor()
		c.valid.DisableColor()
		c.invalid.DisableColor()
	}
	return c
}

// Report records row and reprints the table.
func (c *Console) Report(row Row) {
	if row.LastVerified == "" {
		row.LastVerified = "Never"
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.rows[row.User]; !ok {
		c.order = append(c.order, row.User)
	}
	c.rows[row.User] = row
	c.render()
}

func (c *Console) render() {
	headers := []string{"USER", "VALID", "INVALID", "LAST VERIFIED"}
	cells := make([][]string, 0, len(c.order))
	for _, u := range c.order {
		r := c.rows[u]
		cells = append(cells, []string{
			r.User,
			strconv.FormatInt(r.Valid, 10),
			strconv.FormatInt(r.Invalid, 10),
			r.LastVerified,
		})
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range cells {
		for i, cell := range row {
			widths[i] = max(widths[i], utf8.RuneCountInString(cell))
		}
	}

	// Pad before coloring so escape codes don't skew the columns.
	pad := func(s string, w int) string {
		return s + strings.Repeat(" ", w-utf8.RuneCountInString(s))
	}

	var b strings.Builder
	for i, h := range headers {
		b.WriteString(c.header.Sprint(pad(h, widths[i])))
		b.WriteString("  ")
	}
	b.WriteString("\n")
	for _, row := range cells {
		b.WriteString(pad(row[0], widths[0]))
		b.WriteString("  ")
		b.WriteString(c.valid.Sprint(pad(row[1], widths[1])))
		b.WriteString("  ")
		b.WriteString(c.invalid.Sprint(pad(row[2], widths[2])))
		b.WriteString("  ")
		b.WriteString(pad(row[3], widths[3]))
		b.WriteString("\n")
	}

	if _, err := fmt.Fprint(c.w, b.String()); err != nil {
		slog.Warn("failed to write stats table", "error", err)
	}
}

// Async forwards rows to another Reporter from a single goroutine. Report
// never blocks; rows arriving while the buffer is full are dropped.
type Async struct {
	next Reporter
	rows chan Row
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts forwarding to next with the given buffer size.
func NewAsync(next Reporter, buffer int) *Async {
	if buffer < 1 {
		buffer = 1
	}
	a := &Async{
		next: next,
		rows: make(chan Row, buffer),
		done: make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *Async) loop() {
	defer close(a.done)
	for row := range a.rows {
		a.next.Report(row)
	}
}

// Report enqueues row. Rows reported after Close are dropped.
func (a *Async) Report(row Row) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.rows <- row:
	default:
		slog.Warn("stats reporter is behind, dropping row", "user", row.User)
	}
}

// Close stops accepting rows and waits for queued ones to be rendered, or
// for ctx to end.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.rows)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
