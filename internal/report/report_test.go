package report

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ab@x.com", "a***@x.com"},
		{"abcdefg@x.com", "abcd***@x.com"},
		{"a@x.com", "a***@x.com"},
		{"@x.com", "***@x.com"},
		{"abc@x.com", "abc@x.com"},
		{"abcd@x.com", "abcd@x.com"},
		{"alice.smith@mail.example.org", "alic*******@mail.example.org"},
		{"N/A", "N/A"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskEmail(tt.in))
		})
	}
}

func TestConsole_Report(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, true)

	c.Report(Row{User: "alic*@x.com", Valid: 12, Invalid: 3, LastVerified: "2025-03-01T12:00:00Z"})
	out := buf.String()
	assert.Contains(t, out, "USER")
	assert.Contains(t, out, "LAST VERIFIED")
	assert.Contains(t, out, "alic*@x.com")
	assert.Contains(t, out, "12")
	assert.Contains(t, out, "2025-03-01T12:00:00Z")
	assert.NotContains(t, out, "\x1b[")

	buf.Reset()
	c.Report(Row{User: "b***@y.com"})
	c.Report(Row{User: "alic*@x.com", Valid: 13, Invalid: 3})
	last := buf.String()[strings.LastIndex(buf.String(), "USER"):]
	lines := strings.Split(strings.TrimRight(last, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "alic*@x.com"))
	assert.Contains(t, lines[1], "13")
	assert.Contains(t, lines[1], "Never")
	assert.True(t, strings.HasPrefix(lines[2], "b***@y.com"))
}

func TestConsole_ColumnsAligned(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, true)
	c.Report(Row{User: "a***@x.com", Valid: 1})
	buf.Reset()
	c.Report(Row{User: "longer****@example.com", Valid: 100000})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	col := strings.Index(lines[0], "VALID")
	for _, l := range lines[1:] {
		assert.NotEqual(t, ' ', rune(l[col]), "value should start in the VALID column: %q", l)
		assert.Equal(t, ' ', rune(l[col-1]))
	}
}

type recorder struct {
	mu   sync.Mutex
	rows []Row
	gate chan struct{}
}

func (r *recorder) Report(row Row) {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, row)
}

func (r *recorder) got() []Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Row(nil), r.rows...)
}

func TestAsync_Forwards(t *testing.T) {
	rec := &recorder{}
	a := NewAsync(rec, 4)
	a.Report(Row{User: "one"})
	a.Report(Row{User: "two"})

	require.NoError(t, a.Close(context.Background()))
	assert.Equal(t, []Row{{User: "one"}, {User: "two"}}, rec.got())

	a.Report(Row{User: "late"})
	assert.Len(t, rec.got(), 2)
}

func TestAsync_NeverBlocks(t *testing.T) {
	rec := &recorder{gate: make(chan struct{})}
	a := NewAsync(rec, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			a.Report(Row{User: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Report blocked on a stalled reporter")
	}

	close(rec.gate)
	require.NoError(t, a.Close(context.Background()))
	assert.LessOrEqual(t, len(rec.got()), 2)
}

func TestAsync_CloseHonorsContext(t *testing.T) {
	rec := &recorder{gate: make(chan struct{})}
	a := NewAsync(rec, 1)
	a.Report(Row{User: "stuck"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, a.Close(ctx), context.DeadlineExceeded)
	close(rec.gate)
}
