// Package output writes gcpal command results as JSONL.
//
// Every line is a self-contained Record envelope whose Data payload is
// one of the record types below, so output can be piped into jq or
// loaded line by line.
package output

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/gcpal/pkg/gcp"
)

// Record types, named gcpal.<type>.v<version>.
const (
	// TypeResource identifies a listed or described resource.
	TypeResource = "gcpal.resource.v1"

	// TypeRow identifies one data row (BigQuery, Firestore, Parquet...).
	TypeRow = "gcpal.row.v1"

	// TypeLog identifies one Cloud Logging entry.
	TypeLog = "gcpal.log.v1"

	// TypeError identifies error records.
	TypeError = "gcpal.error.v1"

	// TypeSummary identifies the closing record of a command.
	TypeSummary = "gcpal.summary.v1"
)

// Record is the envelope for every JSONL line.
type Record struct {
	// Type identifies the payload in Data.
	Type string `json:"type"`

	TS time.Time `json:"ts"`

	// JobID correlates every record from one command run.
	JobID string `json:"job_id"`

	// Service is the gcpal service that produced the record, e.g. "storage".
	Service string `json:"service"`

	Data json.RawMessage `json:"data"`
}

// ResourceRecord describes one resource: an object, a table, a topic, a
// secret, a function...
type ResourceRecord struct {
	// Name is the short name as Ls returns it.
	Name string `json:"name"`

	// Path is the full path or resource name, when it differs from Name.
	Path string `json:"path,omitempty"`

	// Kind is the resource level, e.g. "bucket", "table", "job".
	Kind string `json:"kind,omitempty"`

	Size    int64     `json:"size,omitempty"`
	Updated time.Time `json:"updated,omitzero"`
	State   string    `json:"state,omitempty"`

	// Details carries service-specific fields.
	Details any `json:"details,omitempty"`
}

// RowRecord is one row of tabular or document data.
type RowRecord struct {
	// Source is the table, collection or file the row came from.
	Source string `json:"source"`

	// Index is the row's position in the result.
	Index int `json:"index"`

	Values map[string]any `json:"values"`
}

// LogRecord is one log entry.
type LogRecord struct {
	LogName   string            `json:"log_name"`
	Severity  string            `json:"severity"`
	Timestamp time.Time         `json:"timestamp"`
	Resource  string            `json:"resource,omitempty"`
	Message   string            `json:"message"`
	Payload   any               `json:"payload,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// ErrorRecord reports a failure without ending the stream, so partial
// results remain usable.
type ErrorRecord struct {
	// Code is a machine-readable error code; see CodeFor.
	Code string `json:"code"`

	Message string `json:"message"`

	// Resource is the path or name the failure relates to.
	Resource string `json:"resource,omitempty"`

	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeAlreadyExists      = "ALREADY_EXISTS"
	ErrCodeAccessDenied       = "ACCESS_DENIED"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeUnavailable        = "UNAVAILABLE"
	ErrCodeThrottled          = "THROTTLED"
	ErrCodeFailedPrecondition = "FAILED_PRECONDITION"
	ErrCodeInvalidArgument    = "INVALID_ARGUMENT"
	ErrCodeTimeout            = "TIMEOUT"
	ErrCodeInternal           = "INTERNAL"
)

var sentinelCodes = []struct {
	err  error
	code string
}{
	{gcp.ErrNotFound, ErrCodeNotFound},
	{gcp.ErrAlreadyExists, ErrCodeAlreadyExists},
	{gcp.ErrAccessDenied, ErrCodeAccessDenied},
	{gcp.ErrInvalidCredentials, ErrCodeInvalidCredentials},
	{gcp.ErrUnavailable, ErrCodeUnavailable},
	{gcp.ErrThrottled, ErrCodeThrottled},
	{gcp.ErrFailedPrecondition, ErrCodeFailedPrecondition},
	{gcp.ErrInvalidArgument, ErrCodeInvalidArgument},
	{gcp.ErrInvalidPath, ErrCodeInvalidArgument},
}

// CodeFor maps an error onto an ErrorRecord code through the gcp sentinels.
func CodeFor(err error) string {
	for _, sc := range sentinelCodes {
		if errors.Is(err, sc.err) {
			return sc.code
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCodeTimeout
	}
	return ErrCodeInternal
}

// NewErrorRecord builds an ErrorRecord from err.
func NewErrorRecord(err error, resource string) *ErrorRecord {
	return &ErrorRecord{Code: CodeFor(err), Message: err.Error(), Resource: resource}
}

// SummaryRecord closes a command's output.
type SummaryRecord struct {
	Records int64 `json:"records"`
	Errors  int64 `json:"errors"`

	Duration      time.Duration `json:"duration_ns"`
	DurationHuman string        `json:"duration"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // "marshal" or "write"
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
