package registry

import (
	"context"
	"sync"
	"time"
)

// FaultFunc injects query failures. call is 1-based per task.
type FaultFunc func(taskID string, call int) error

// Memory is an in-process Registry and Publisher.
//
// Thread-safety: all methods safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	records map[string]Record
	queries map[string]int
	fault   FaultFunc
}

// NewMemory creates an empty registry.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]Record),
		queries: make(map[string]int),
	}
}

// SetFault installs a hook consulted on every Status call (nil removes it).
func (m *Memory) SetFault(f FaultFunc) {
	m.mu.Lock()
	m.fault = f
	m.mu.Unlock()
}

// Status returns the recorded status of taskID.
func (m *Memory) Status(ctx context.Context, taskID string) (Status, bool, error) {
	if err := ValidateTaskID(taskID); err != nil {
		return "", false, err
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.queries[taskID]++
	if m.fault != nil {
		if err := m.fault(taskID, m.queries[taskID]); err != nil {
			return "", false, err
		}
	}

	r, ok := m.records[taskID]
	return r.Status, ok, nil
}

// Publish records status for taskID.
func (m *Memory) Publish(ctx context.Context, taskID string, status Status) error {
	if err := ValidateTaskID(taskID); err != nil {
		return err
	}
	m.Set(taskID, status)
	return nil
}

// Set records status for taskID.
func (m *Memory) Set(taskID string, status Status) {
	m.mu.Lock()
	m.records[taskID] = Record{TaskID: taskID, Status: status, UpdatedAt: time.Now()}
	m.mu.Unlock()
}

// Revoke marks taskID REVOKED.
func (m *Memory) Revoke(taskID string) {
	m.Set(taskID, StatusRevoked)
}

// Forget removes any record for taskID.
func (m *Memory) Forget(taskID string) {
	m.mu.Lock()
	delete(m.records, taskID)
	m.mu.Unlock()
}

// Queries returns how many Status calls were made for taskID.
func (m *Memory) Queries(taskID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queries[taskID]
}
