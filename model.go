package camerashm

import (
	"fmt"
	"strings"
	"time"

	"github.com/e7canasta/orion-care-sensor/camera-shm/framering"
	"github.com/e7canasta/orion-care-sensor/camera-shm/registry"
)

// DefaultStreamKey is the stream key used when none is configured.
const DefaultStreamKey = "camera:0"

// DefaultShape is the frame shape used when none is configured (480x640).
var DefaultShape = framering.Shape{Height: 480, Width: 640}

// Role selects the session loop.
type Role int

const (
	// RoleProducer captures from the camera and writes to the transport.
	RoleProducer Role = iota
	// RoleConsumer reads from the transport and hands frames to a sink.
	RoleConsumer
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleProducer:
		return "producer"
	case RoleConsumer:
		return "consumer"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler (see ParseRole).
func (r *Role) UnmarshalText(b []byte) error {
	role, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// ParseRole accepts "producer"/"write" and "consumer"/"read".
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "producer", "write", "writer":
		return RoleProducer, nil
	case "consumer", "read", "reader":
		return RoleConsumer, nil
	default:
		return 0, fmt.Errorf("camerashm: unknown role %q (want producer|write or consumer|read)", s)
	}
}

// StreamParameters identify the stream and the session role.
// Immutable for the lifetime of a session.
type StreamParameters struct {
	StreamKey string          `yaml:"stream_key"`
	Shape     framering.Shape `yaml:"shape"`
	Role      Role            `yaml:"role"`
}

// Validate checks the parameters.
func (p StreamParameters) Validate() error {
	if p.StreamKey == "" {
		return fmt.Errorf("camerashm: stream key is required")
	}
	if err := p.Shape.Validate(); err != nil {
		return err
	}
	if p.Role != RoleProducer && p.Role != RoleConsumer {
		return fmt.Errorf("camerashm: invalid role %d", int(p.Role))
	}
	return nil
}

// CaptureArguments are producer-only arguments.
type CaptureArguments struct {
	DeviceIndex int `yaml:"device_index"`
}

// Validate checks the arguments.
func (a CaptureArguments) Validate() error {
	if a.DeviceIndex < 0 {
		return fmt.Errorf("camerashm: device index must be >= 0, got %d", a.DeviceIndex)
	}
	return nil
}

// TaskHandle identifies the task whose status governs the session.
type TaskHandle struct {
	TaskID string `yaml:"task_id"`
}

// Validate checks the handle.
func (t TaskHandle) Validate() error {
	return registry.ValidateTaskID(t.TaskID)
}

// State of a session.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SessionState is a point-in-time view of the session flags.
type SessionState struct {
	Running       bool
	StopRequested bool
}

// TerminalModel describes a finished session. The session streams frames as
// a side effect and returns no per-frame data.
type TerminalModel struct {
	SessionID  string           `yaml:"session_id"`
	Params     StreamParameters `yaml:"params"`
	Args       CaptureArguments `yaml:"args"`
	Task       TaskHandle       `yaml:"task"`
	State      State            `yaml:"state"`
	StopReason string           `yaml:"stop_reason,omitempty"`
	Error      string           `yaml:"error,omitempty"`

	FramesWritten     uint64 `yaml:"frames_written"`
	FramesRead        uint64 `yaml:"frames_read"`
	CaptureFailures   uint64 `yaml:"capture_failures"`
	ReadMisses        uint64 `yaml:"read_misses"`
	FramesDropped     uint64 `yaml:"frames_dropped"`
	RegistrationPolls int    `yaml:"registration_polls"`

	StartedAt time.Time     `yaml:"started_at"`
	StoppedAt time.Time     `yaml:"stopped_at"`
	Duration  time.Duration `yaml:"duration"`
	// FPS is the mean rate of frames written (producer) or read (consumer)
	FPS float64 `yaml:"fps"`
}
