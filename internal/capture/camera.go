// Package capture owns the camera device. Frames are produced one at a time,
// JPEG-encoded, so a slow consumer simply delays the next grab instead of
// queueing frames.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"face-gate-go/config"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Capture error taxonomy; all of them abort the session and are retryable by
// starting a new flow.
var (
	ErrCameraUnavailable = errors.New("camera device unavailable")
	ErrCameraTimeout     = errors.New("timed out waiting for a usable camera stream")
)

// Camera is an exclusive handle on one video device.
type Camera struct {
	cfg config.CaptureConfig

	mu     sync.Mutex
	device *gocv.VideoCapture
	index  int
	closed bool
}

// Open acquires the configured device and waits, polling, until the stream
// reports usable dimensions. The warm-up window is bounded; exceeding it is a
// hard failure and the device is released.
func Open(ctx context.Context, cfg config.CaptureConfig) (*Camera, error) {
	device, err := openUsable(ctx, cfg, cfg.Device)
	if err != nil {
		return nil, err
	}

	log.WithField("device", cfg.Device).Info("Camera stream acquired")
	return &Camera{cfg: cfg, device: device, index: cfg.Device}, nil
}

// openUsable opens a device and polls until it delivers a frame with
// non-zero dimensions, or the warm-up window runs out.
func openUsable(ctx context.Context, cfg config.CaptureConfig, index int) (*gocv.VideoCapture, error) {
	device, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, fmt.Errorf("%w: device %d: %v", ErrCameraUnavailable, index, err)
	}

	warmup := time.Duration(cfg.WarmupSeconds) * time.Second
	if warmup <= 0 {
		warmup = 10 * time.Second
	}
	poll := time.Duration(cfg.PollIntervalMs) * time.Millisecond
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}

	deadline := time.Now().Add(warmup)
	probe := gocv.NewMat()
	defer probe.Close()

	for {
		if err := ctx.Err(); err != nil {
			device.Close()
			return nil, err
		}
		if device.Read(&probe) && !probe.Empty() && probe.Cols() > 0 && probe.Rows() > 0 {
			return device, nil
		}
		if time.Now().After(deadline) {
			device.Close()
			return nil, fmt.Errorf("%w: device %d", ErrCameraTimeout, index)
		}

		select {
		case <-ctx.Done():
			device.Close()
			return nil, ctx.Err()
		case <-time.After(poll):
		}
	}
}

// Next grabs the next frame and returns it JPEG-encoded. It blocks until a
// frame is available or the context is cancelled.
func (c *Camera) Next(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.device == nil {
		return nil, ErrCameraUnavailable
	}

	img := gocv.NewMat()
	defer img.Close()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.device.Read(&img) && !img.Empty() {
			break
		}
		// Transient empty grabs happen right after device warm-up.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	defer buf.Close()

	frame := make([]byte, len(buf.GetBytes()))
	copy(frame, buf.GetBytes())
	return frame, nil
}

// Switch changes capture direction. The current stream is stopped only after
// the replacement is confirmed usable; on failure the original stream keeps
// delivering frames.
func (c *Camera) Switch(ctx context.Context, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCameraUnavailable
	}
	if index == c.index {
		return nil
	}

	replacement, err := openUsable(ctx, c.cfg, index)
	if err != nil {
		log.WithError(err).Warnf("Failed to switch to camera device %d, keeping device %d", index, c.index)
		return err
	}

	old := c.device
	c.device = replacement
	c.index = index
	if old != nil {
		old.Close()
	}

	log.WithField("device", index).Info("Camera direction switched")
	return nil
}

// Close releases the device.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.device != nil {
		err := c.device.Close()
		c.device = nil
		return err
	}
	return nil
}
