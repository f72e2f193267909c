package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer emits one JSONL line per call. Implementations are safe for
// concurrent use and never interleave lines.
type Writer interface {
	WriteResource(ctx context.Context, res *ResourceRecord) error
	WriteRow(ctx context.Context, row *RowRecord) error
	WriteLog(ctx context.Context, entry *LogRecord) error
	WriteError(ctx context.Context, err *ErrorRecord) error
	WriteSummary(ctx context.Context, sum *SummaryRecord) error
	Close() error
}

var _ Writer = (*JSONLWriter)(nil)

// JSONLWriter stamps every record with one job ID and service name and
// counts what it wrote for the closing summary.
type JSONLWriter struct {
	jobID   string
	service string
	started time.Time

	mu     sync.Mutex
	w      io.Writer
	counts map[string]int64
	closed bool
}

// NewJSONLWriter writes to w, typically the command's stdout. Close does
// not close w.
func NewJSONLWriter(w io.Writer, jobID, service string) *JSONLWriter {
	return &JSONLWriter{
		w:       w,
		jobID:   jobID,
		service: service,
		started: time.Now(),
		counts:  map[string]int64{},
	}
}

func (jw *JSONLWriter) WriteResource(ctx context.Context, res *ResourceRecord) error {
	return jw.emit(ctx, TypeResource, res)
}

func (jw *JSONLWriter) WriteRow(ctx context.Context, row *RowRecord) error {
	return jw.emit(ctx, TypeRow, row)
}

func (jw *JSONLWriter) WriteLog(ctx context.Context, entry *LogRecord) error {
	return jw.emit(ctx, TypeLog, entry)
}

func (jw *JSONLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return jw.emit(ctx, TypeError, err)
}

func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.emit(ctx, TypeSummary, sum)
}

// Summary totals the records written so far. Error lines count as errors,
// everything else except summaries counts as records.
func (jw *JSONLWriter) Summary() *SummaryRecord {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	sum := &SummaryRecord{Errors: jw.counts[TypeError]}
	for typ, n := range jw.counts {
		if typ != TypeError && typ != TypeSummary {
			sum.Records += n
		}
	}
	sum.Duration = time.Since(jw.started)
	sum.DurationHuman = sum.Duration.Round(time.Millisecond).String()
	return sum
}

// Close makes later writes fail with ErrWriterClosed.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	jw.closed = true
	jw.mu.Unlock()
	return nil
}

// line is Record with the payload left unmarshalled, so a record is
// encoded once.
type line struct {
	Type    string    `json:"type"`
	TS      time.Time `json:"ts"`
	JobID   string    `json:"job_id"`
	Service string    `json:"service"`
	Data    any       `json:"data"`
}

func (jw *JSONLWriter) emit(ctx context.Context, typ string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(line{
		Type:    typ,
		TS:      time.Now().UTC(),
		JobID:   jw.jobID,
		Service: jw.service,
		Data:    data,
	})
	if err != nil {
		return &WriteError{Op: "marshal", Err: err}
	}
	b = append(b, '\n')

	jw.mu.Lock()
	defer jw.mu.Unlock()
	if jw.closed {
		return ErrWriterClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeFull(jw.w, b); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	jw.counts[typ]++
	return nil
}

// writeFull loops over short writes; a write making no progress fails with
// io.ErrShortWrite rather than spinning.
func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		switch {
		case err != nil:
			return err
		case n == 0:
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
