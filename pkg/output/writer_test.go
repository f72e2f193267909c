package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/3leaps/gcpal/pkg/gcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, line []byte) (Record, map[string]any) {
	t.Helper()
	var record Record
	require.NoError(t, json.Unmarshal(line, &record))
	var data map[string]any
	require.NoError(t, json.Unmarshal(record.Data, &data))
	return record, data
}

func TestNewJSONLWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "storage")

	assert.NotNil(t, w)
	assert.Equal(t, "job-123", w.jobID)
	assert.Equal(t, "storage", w.service)
}

func TestJSONLWriter_WriteResource(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "storage")

	res := &ResourceRecord{
		Name:    "file.parquet",
		Path:    "gs://bucket/data/2024/file.parquet",
		Kind:    "object",
		Size:    1048576,
		Updated: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, w.WriteResource(context.Background(), res))

	record, _ := decodeLine(t, buf.Bytes())
	assert.Equal(t, TypeResource, record.Type)
	assert.Equal(t, "job-123", record.JobID)
	assert.Equal(t, "storage", record.Service)
	assert.False(t, record.TS.IsZero())

	var got ResourceRecord
	require.NoError(t, json.Unmarshal(record.Data, &got))
	assert.Equal(t, *res, got)
}

func TestJSONLWriter_WriteRow(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-1", "bigquery")

	row := &RowRecord{Source: "p.ds.t", Index: 3, Values: map[string]any{"a": 1, "b": "x"}}
	require.NoError(t, w.WriteRow(context.Background(), row))

	record, data := decodeLine(t, buf.Bytes())
	assert.Equal(t, TypeRow, record.Type)
	assert.Equal(t, "p.ds.t", data["source"])
	assert.Equal(t, float64(3), data["index"])
	assert.Equal(t, map[string]any{"a": float64(1), "b": "x"}, data["values"])
}

func TestJSONLWriter_WriteLog(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-1", "logging")

	entry := &LogRecord{
		LogName:   "run.googleapis.com/stdout",
		Severity:  "ERROR",
		Timestamp: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
		Message:   "boom",
	}
	require.NoError(t, w.WriteLog(context.Background(), entry))

	record, data := decodeLine(t, buf.Bytes())
	assert.Equal(t, TypeLog, record.Type)
	assert.Equal(t, "boom", data["message"])
	assert.NotContains(t, data, "labels")
	assert.NotContains(t, data, "payload")
}

func TestJSONLWriter_WriteError(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "secretmanager")

	errRec := NewErrorRecord(fmt.Errorf("secret x: %w", gcp.ErrNotFound), "projects/p/secrets/x")
	require.NoError(t, w.WriteError(context.Background(), errRec))

	record, data := decodeLine(t, buf.Bytes())
	assert.Equal(t, TypeError, record.Type)
	assert.Equal(t, ErrCodeNotFound, data["code"])
	assert.Equal(t, "projects/p/secrets/x", data["resource"])
}

func TestCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{gcp.ErrNotFound, ErrCodeNotFound},
		{fmt.Errorf("wrapped: %w", gcp.ErrAlreadyExists), ErrCodeAlreadyExists},
		{gcp.ErrAccessDenied, ErrCodeAccessDenied},
		{gcp.ErrInvalidCredentials, ErrCodeInvalidCredentials},
		{gcp.ErrUnavailable, ErrCodeUnavailable},
		{gcp.ErrThrottled, ErrCodeThrottled},
		{gcp.ErrFailedPrecondition, ErrCodeFailedPrecondition},
		{gcp.ErrInvalidArgument, ErrCodeInvalidArgument},
		{gcp.ErrInvalidPath, ErrCodeInvalidArgument},
		{context.DeadlineExceeded, ErrCodeTimeout},
		{errors.New("other"), ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.want+"/"+tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, CodeFor(tt.err))
		})
	}
}

func TestJSONLWriter_Summary(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-1", "pubsub")
	ctx := context.Background()

	require.NoError(t, w.WriteResource(ctx, &ResourceRecord{Name: "a"}))
	require.NoError(t, w.WriteResource(ctx, &ResourceRecord{Name: "b"}))
	require.NoError(t, w.WriteError(ctx, &ErrorRecord{Code: ErrCodeInternal, Message: "x"}))

	sum := w.Summary()
	assert.Equal(t, int64(2), sum.Records)
	assert.Equal(t, int64(1), sum.Errors)
	assert.NotEmpty(t, sum.DurationHuman)

	require.NoError(t, w.WriteSummary(ctx, sum))
	assert.Equal(t, int64(2), w.Summary().Records)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	record, data := decodeLine(t, []byte(lines[3]))
	assert.Equal(t, TypeSummary, record.Type)
	assert.Equal(t, float64(2), data["records"])
}

func TestJSONLWriter_Close(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "storage")

	require.NoError(t, w.Close())

	err := w.WriteResource(context.Background(), &ResourceRecord{Name: "file.txt"})
	assert.ErrorIs(t, err, ErrWriterClosed)
}

func TestJSONLWriter_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "storage")

	const numWriters = 10
	const writesPerWriter = 100

	var wg sync.WaitGroup
	wg.Add(numWriters)

	for i := 0; i < numWriters; i++ {
		go func(writerID int) {
			defer wg.Done()
			for j := 0; j < writesPerWriter; j++ {
				res := &ResourceRecord{
					Name: "file.txt",
					Size: int64(writerID*writesPerWriter + j),
				}
				_ = w.WriteResource(context.Background(), res)
			}
		}(i)
	}

	wg.Wait()

	// Every line must be a complete JSON object.
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, numWriters*writesPerWriter)

	for i, line := range lines {
		var record Record
		err := json.Unmarshal([]byte(line), &record)
		assert.NoError(t, err, "line %d should be valid JSON: %s", i, line)
	}
	assert.Equal(t, int64(numWriters*writesPerWriter), w.Summary().Records)
}

func TestJSONLWriter_ContextCancellation(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "storage")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.WriteResource(ctx, &ResourceRecord{Name: "file.txt"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, buf.String())
}

func TestJSONLWriter_WriteFailure(t *testing.T) {
	failWriter := &failingWriter{err: errors.New("disk full")}
	w := NewJSONLWriter(failWriter, "job-123", "storage")

	err := w.WriteResource(context.Background(), &ResourceRecord{Name: "file.txt"})
	require.Error(t, err)

	var writeErr *WriteError
	assert.True(t, errors.As(err, &writeErr))
	assert.Equal(t, "write", writeErr.Op)
}

func TestJSONLWriter_MarshalFailure(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", "bigquery")

	err := w.WriteRow(context.Background(), &RowRecord{Values: map[string]any{"ch": make(chan int)}})
	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, "marshal", writeErr.Op)
	assert.Empty(t, buf.String())
}

// failingWriter is an io.Writer that always returns an error.
type failingWriter struct {
	err error
}

func (f *failingWriter) Write(p []byte) (n int, err error) {
	return 0, f.err
}

func TestJSONLWriter_ShortWrite(t *testing.T) {
	shortWriter := &shortWriteWriter{bytesPerWrite: 10}
	w := NewJSONLWriter(shortWriter, "job-123", "storage")

	res := &ResourceRecord{
		Name: "file.parquet",
		Path: "gs://bucket/data/2024/file.parquet",
		Size: 1048576,
	}
	require.NoError(t, w.WriteResource(context.Background(), res))

	lines := strings.Split(strings.TrimSpace(shortWriter.buf.String()), "\n")
	assert.Len(t, lines, 1)

	var record Record
	err := json.Unmarshal([]byte(lines[0]), &record)
	assert.NoError(t, err, "output should be valid JSON despite short writes")
	assert.Equal(t, TypeResource, record.Type)
}

func TestJSONLWriter_ZeroWrite(t *testing.T) {
	w := NewJSONLWriter(&zeroWriteWriter{}, "job-123", "storage")

	err := w.WriteResource(context.Background(), &ResourceRecord{Name: "file.txt"})
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

// shortWriteWriter writes at most bytesPerWrite bytes per call.
type shortWriteWriter struct {
	buf           bytes.Buffer
	bytesPerWrite int
}

func (sw *shortWriteWriter) Write(p []byte) (n int, err error) {
	toWrite := len(p)
	if toWrite > sw.bytesPerWrite {
		toWrite = sw.bytesPerWrite
	}
	return sw.buf.Write(p[:toWrite])
}

// zeroWriteWriter always returns 0 bytes written with nil error.
type zeroWriteWriter struct{}

func (zw *zeroWriteWriter) Write(p []byte) (n int, err error) {
	return 0, nil
}

func TestWriteError(t *testing.T) {
	underlying := errors.New("underlying error")
	err := &WriteError{Op: "marshal", Err: underlying}

	assert.Equal(t, "output: marshal: underlying error", err.Error())
	assert.ErrorIs(t, err, underlying)
}

func TestResourceRecord_OmitEmpty(t *testing.T) {
	data, err := json.Marshal(&ResourceRecord{Name: "topic"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"topic"}`, string(data))
}

func BenchmarkJSONLWriter_WriteResource(b *testing.B) {
	w := NewJSONLWriter(io.Discard, "job-123", "storage")
	ctx := context.Background()
	res := &ResourceRecord{
		Name:    "file.parquet",
		Path:    "gs://bucket/data/2024/file.parquet",
		Size:    1048576,
		Updated: time.Now(),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = w.WriteResource(ctx, res)
	}
}
