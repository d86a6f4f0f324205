package convert

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/sqlscout/sqlscout/internal/dbexec"
)

// streamWriter shapes the /convert response: SQL tokens as they
// arrive, then a separator, then either a RESULTS block or an ERROR
// line. Every write is flushed so the caller sees tokens without
// buffering delay.
type streamWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newStreamWriter(w http.ResponseWriter) *streamWriter {
	flusher, _ := w.(http.Flusher)
	return &streamWriter{w: w, flusher: flusher}
}

func (s *streamWriter) begin() {
	if s.started {
		return
	}
	s.started = true
	s.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	s.w.Header().Set("Cache-Control", "no-cache")
	s.w.WriteHeader(http.StatusOK)
}

func (s *streamWriter) write(text string) {
	s.begin()
	_, _ = fmt.Fprint(s.w, text)
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// WriteToken forwards one provider token.
func (s *streamWriter) WriteToken(token string) error {
	s.write(token)
	return nil
}

// WriteError terminates the stream with an ERROR segment. When SQL
// tokens were already streamed the separator keeps the segment
// distinguishable from the SQL text.
func (s *streamWriter) WriteError(message string) {
	if s.started {
		s.write(streamSeparator)
	}
	s.write("ERROR: " + message + "\n")
}

// WriteResults appends the formatted result block after the SQL.
func (s *streamWriter) WriteResults(result dbexec.Result) {
	s.write(streamSeparator)
	if len(result.Rows) == 0 {
		s.write("No results found.\n")
		return
	}

	var b strings.Builder
	b.WriteString("RESULTS:\n")
	header := strings.Join(result.Columns, " | ")
	b.WriteString(header)
	b.WriteByte('\n')
	b.WriteString(strings.Repeat("-", len(header)))
	b.WriteByte('\n')
	for _, row := range result.Rows {
		cells := make([]string, len(row))
		for i, value := range row {
			cells[i] = formatCell(value)
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteByte('\n')
	}
	s.write(b.String())
}

func formatCell(value any) string {
	if value == nil {
		return "NULL"
	}
	return fmt.Sprint(value)
}
