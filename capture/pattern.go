package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
)

// PatternConfig configures the synthetic test-pattern source.
type PatternConfig struct {
	Width   int         // default 640
	Height  int         // default 480
	FPS     float64     // default 30
	Devices int         // number of valid device indices (default 1)
	Clock   clock.Clock // default clock.WallClock
}

// PatternOpener opens synthetic devices producing a moving RGB gradient.
//
// It needs no hardware, so demos and integration tests can run the producer
// path end to end.
type PatternOpener struct {
	cfg PatternConfig
}

// NewPatternOpener creates a PatternOpener with fail-fast validation.
func NewPatternOpener(cfg PatternConfig) (*PatternOpener, error) {
	if cfg.Width == 0 {
		cfg.Width = 640
	}
	if cfg.Height == 0 {
		cfg.Height = 480
	}
	if cfg.FPS == 0 {
		cfg.FPS = 30
	}
	if cfg.Devices == 0 {
		cfg.Devices = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}

	if cfg.Width < 0 || cfg.Height < 0 {
		return nil, fmt.Errorf("capture: invalid pattern size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS < 0.1 || cfg.FPS > 240 {
		return nil, fmt.Errorf("capture: invalid pattern fps %.2f (must be 0.1-240)", cfg.FPS)
	}
	if cfg.Devices < 0 {
		return nil, fmt.Errorf("capture: invalid pattern device count %d", cfg.Devices)
	}

	return &PatternOpener{cfg: cfg}, nil
}

// Open returns a pattern device. Indices outside [0, Devices) are unavailable.
func (o *PatternOpener) Open(ctx context.Context, deviceIndex int) (Device, error) {
	if deviceIndex < 0 || deviceIndex >= o.cfg.Devices {
		return nil, fmt.Errorf("%w: pattern device %d (have %d)", ErrDeviceUnavailable, deviceIndex, o.cfg.Devices)
	}
	return &patternDevice{
		cfg:    o.cfg,
		index:  deviceIndex,
		period: time.Duration(float64(time.Second) / o.cfg.FPS),
	}, nil
}

type patternDevice struct {
	cfg    PatternConfig
	index  int
	period time.Duration

	frameCount uint64 // atomic
	bytesRead  uint64 // atomic

	releaseOnce sync.Once
	released    atomic.Bool
}

func (d *patternDevice) Read(ctx context.Context) (RawFrame, error) {
	if d.released.Load() {
		return RawFrame{}, fmt.Errorf("%w: device %d released", ErrCaptureFailed, d.index)
	}

	select {
	case <-d.cfg.Clock.After(d.period):
	case <-ctx.Done():
		return RawFrame{}, fmt.Errorf("%w: %v", ErrCaptureFailed, ctx.Err())
	}

	seq := atomic.AddUint64(&d.frameCount, 1)
	data := renderGradient(d.cfg.Width, d.cfg.Height, int(seq))
	atomic.AddUint64(&d.bytesRead, uint64(len(data)))

	return RawFrame{
		Seq:       seq,
		Timestamp: d.cfg.Clock.Now(),
		Width:     d.cfg.Width,
		Height:    d.cfg.Height,
		Format:    FormatRGB,
		Data:      data,
		TraceID:   uuid.New().String(),
	}, nil
}

func (d *patternDevice) Release() error {
	d.releaseOnce.Do(func() { d.released.Store(true) })
	return nil
}

func (d *patternDevice) Stats() Stats {
	return Stats{
		FrameCount: atomic.LoadUint64(&d.frameCount),
		BytesRead:  atomic.LoadUint64(&d.bytesRead),
	}
}

// renderGradient draws a diagonal RGB gradient shifted by offset pixels.
func renderGradient(width, height, offset int) []byte {
	data := make([]byte, width*height*3)
	for y := 0; y < height; y++ {
		row := data[y*width*3 : (y+1)*width*3]
		for x := 0; x < width; x++ {
			v := uint8(x + y + offset)
			row[x*3] = v
			row[x*3+1] = uint8(y + offset)
			row[x*3+2] = 255 - v
		}
	}
	return data
}
