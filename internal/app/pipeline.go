package app

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/capture"
)

// maxReadFailures is the number of consecutive failed reads after which the
// pipeline gives up.
const maxReadFailures = 50

// runPipeline is the capture loop. It starts idle, switches to the active
// rate on motion and back to idle after IdleTimeout without motion. Only
// frames seen while active are recognized.
func (a *App) runPipeline(ctx context.Context) error {
	ticker := time.NewTicker(interval(a.config.IdleFPS))
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			a.log.Info("camera pipeline stopped")
			return nil
		case now := <-ticker.C:
			fps, changed, err := a.step(ctx, now)
			if err != nil {
				if errors.Is(err, capture.ErrNoMoreFrames) {
					a.log.Info("camera has no more frames")
					return nil
				}
				failures++
				if failures >= maxReadFailures {
					return err
				}
				continue
			}
			failures = 0
			if changed {
				ticker.Reset(interval(fps))
			}
		}
	}
}

// step reads and handles one frame. It returns the frame rate to use next
// and whether it changed.
func (a *App) step(ctx context.Context, now time.Time) (int, bool, error) {
	frame, err := a.config.Camera.ReadFrame()
	if err != nil {
		a.log.WithError(err).Debug("failed to read frame")
		return 0, false, err
	}
	defer frame.Close()

	a.storePreview(frame)

	moved, pct := a.motion.Detect(frame)

	a.mu.Lock()
	fps, changed := a.gate.Observe(moved, now)
	active := a.gate.Active()
	enabled := a.enabled
	a.mu.Unlock()

	if changed {
		a.config.Camera.SetFPS(fps)
		a.log.WithFields(logrus.Fields{
			"fps":    fps,
			"active": active,
			"motion": pct,
		}).Info("camera rate changed")
	}

	if !active || !enabled {
		return fps, changed, nil
	}

	res, err := a.config.Orchestrator.ProcessFrame(ctx, a.config.State, frame)
	if err != nil {
		a.log.WithError(err).Warn("frame recognition failed")
		return fps, changed, nil
	}

	a.mu.Lock()
	a.last = res
	a.mu.Unlock()
	return fps, changed, nil
}

func (a *App) storePreview(frame *gocv.Mat) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		a.log.WithError(err).Debug("failed to encode preview frame")
		return
	}
	defer buf.Close()

	data := buf.GetBytes()
	jpeg := make([]byte, len(data))
	copy(jpeg, data)

	a.mu.Lock()
	a.preview = jpeg
	a.mu.Unlock()
}

func interval(fps int) time.Duration {
	return time.Second / time.Duration(fps)
}
