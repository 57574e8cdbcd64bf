// Package registry reports and records the lifecycle status of tasks.
//
// A stream session's watcher polls a Registry for its task id and stops the
// session once the task is REVOKED. Status names follow Celery so records can
// be shared with Celery-based tooling.
//
// Two implementations are provided:
//
//   - Memory: in-process map, for tests and single-process demos.
//   - MQTT: retained msgpack records on <prefix>/<task_id>/status.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	// ErrInvalidTaskID is returned for empty ids or ids that cannot be used
	// as a topic level.
	ErrInvalidTaskID = errors.New("registry: invalid task id")
	// ErrUnknownStatus is returned by ParseStatus.
	ErrUnknownStatus = errors.New("registry: unknown status")
	// ErrNotConnected is returned by MQTT before Connect succeeds.
	ErrNotConnected = errors.New("registry: not connected")
)

// Status is a task lifecycle state.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusStarted Status = "STARTED"
	StatusRetry   Status = "RETRY"
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
	StatusRevoked Status = "REVOKED"
)

var allStatuses = []Status{
	StatusPending, StatusStarted, StatusRetry,
	StatusSuccess, StatusFailure, StatusRevoked,
}

// ParseStatus parses a status name (case-insensitive).
func ParseStatus(s string) (Status, error) {
	up := Status(strings.ToUpper(strings.TrimSpace(s)))
	for _, st := range allStatuses {
		if up == st {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusRevoked:
		return true
	default:
		return false
	}
}

// Registry answers status queries.
//
// ok=false means no status has been recorded for the task yet. Errors are
// transport failures; callers treat them as "no status yet".
type Registry interface {
	Status(ctx context.Context, taskID string) (status Status, ok bool, err error)
}

// Publisher records task status.
type Publisher interface {
	Publish(ctx context.Context, taskID string, status Status) error
}

// ValidateTaskID checks that id is non-empty and usable as a single topic
// level (no '/', '+' or '#').
func ValidateTaskID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTaskID)
	}
	if strings.ContainsAny(id, "/+#") {
		return fmt.Errorf("%w: %q contains '/', '+' or '#'", ErrInvalidTaskID, id)
	}
	return nil
}

// Record is the stored form of a task status.
type Record struct {
	TaskID    string    `msgpack:"task_id"`
	Status    Status    `msgpack:"status"`
	UpdatedAt time.Time `msgpack:"updated_at"`
	Reason    string    `msgpack:"reason,omitempty"`
}

// EncodeRecord serializes r with msgpack.
func EncodeRecord(r Record) ([]byte, error) {
	b, err := msgpack.Marshal(&r)
	if err != nil {
		return nil, fmt.Errorf("registry: encode record: %w", err)
	}
	return b, nil
}

// DecodeRecord parses a msgpack record and validates its status.
func DecodeRecord(b []byte) (Record, error) {
	var r Record
	if err := msgpack.Unmarshal(b, &r); err != nil {
		return Record{}, fmt.Errorf("registry: decode record: %w", err)
	}
	st, err := ParseStatus(string(r.Status))
	if err != nil {
		return Record{}, err
	}
	r.Status = st
	return r, nil
}
