// Package app runs mudra's local mode: frames from a camera are gated on
// motion and fed to the default recognition session.
package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/stream"
)

// Pipeline defaults.
const (
	// DefaultIdleFPS is the frame rate when no motion is detected.
	DefaultIdleFPS = 5
	// DefaultActiveFPS is the frame rate while the scene is moving.
	DefaultActiveFPS = 15
	// DefaultIdleTimeout is how long without motion before returning to idle.
	DefaultIdleTimeout = 2 * time.Second
	// DefaultMotionThreshold is the percentage of changed pixels that counts
	// as motion.
	DefaultMotionThreshold = 1.0
)

// ErrNoOrchestrator is returned by New when Config.Orchestrator is nil.
var ErrNoOrchestrator = errors.New("app: orchestrator is required")

// Config holds the pipeline's collaborators and tuning.
type Config struct {
	Camera       capture.Camera
	Orchestrator *stream.Orchestrator
	// State receives every recognized frame. It is normally the registry's
	// default session.
	State *stream.State

	IdleFPS         int
	ActiveFPS       int
	IdleTimeout     time.Duration
	MotionThreshold float64
	Logger          logrus.FieldLogger
}

// App reads the camera and feeds active frames to the orchestrator.
type App struct {
	config Config
	motion *capture.MotionDetector
	gate   *capture.Gate
	log    logrus.FieldLogger

	mu      sync.RWMutex
	enabled bool
	running bool
	preview []byte
	last    stream.Result
}

// New creates an App. Recognition starts enabled.
func New(config Config) (*App, error) {
	if config.Orchestrator == nil {
		return nil, ErrNoOrchestrator
	}
	if config.Camera == nil {
		return nil, errors.New("app: camera is required")
	}
	if config.State == nil {
		config.State = config.Orchestrator.NewState(stream.DefaultSessionID)
	}
	if config.IdleFPS <= 0 {
		config.IdleFPS = DefaultIdleFPS
	}
	if config.ActiveFPS <= 0 {
		config.ActiveFPS = DefaultActiveFPS
	}
	if config.IdleFPS > config.ActiveFPS {
		config.IdleFPS = config.ActiveFPS
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultIdleTimeout
	}
	if config.MotionThreshold <= 0 {
		config.MotionThreshold = DefaultMotionThreshold
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	return &App{
		config: config,
		motion: capture.NewMotionDetector(config.MotionThreshold),
		gate: &capture.Gate{
			IdleFPS:   config.IdleFPS,
			ActiveFPS: config.ActiveFPS,
			Hold:      config.IdleTimeout,
		},
		log:     config.Logger.WithField("component", "app"),
		enabled: true,
	}, nil
}

// SetEnabled turns recognition on or off. The camera keeps running while
// disabled so the preview stays live.
func (a *App) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
}

// IsEnabled reports whether recognition is on.
func (a *App) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// State returns the session the pipeline feeds.
func (a *App) State() *stream.State {
	return a.config.State
}

// Active reports whether the pipeline is in the active (moving) state.
func (a *App) Active() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.gate.Active()
}

// LastResult returns the result of the most recent recognized frame.
func (a *App) LastResult() stream.Result {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.last
}

// LatestJPEG returns the most recent camera frame as JPEG. The returned
// slice is replaced, never modified, when a new frame arrives.
func (a *App) LatestJPEG() ([]byte, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.preview, a.preview != nil
}

// Run opens the camera and processes frames until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return errors.New("app: already running")
	}
	a.running = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	if err := a.config.Camera.Open(); err != nil {
		return err
	}
	defer func() {
		if err := a.config.Camera.Close(); err != nil {
			a.log.WithError(err).Warn("failed to close camera")
		}
		a.motion.Close()
	}()

	a.config.Camera.SetFPS(a.config.IdleFPS)
	a.log.WithField("fps", a.config.IdleFPS).Info("camera pipeline started")

	return a.runPipeline(ctx)
}
