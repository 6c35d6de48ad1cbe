package plugin

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/stream"
)

// ActionSource looks up the actions bound to a gesture label.
type ActionSource interface {
	ListByGesture(gesture string) ([]*store.Action, error)
}

// Dispatcher runs the plugin actions bound to a gesture each time it is
// appended to a transcript. It implements stream.Listener; runs happen in
// the background so the stream never waits on a plugin. At most parallel
// runs are in flight; actions arriving while all slots are busy are dropped.
type Dispatcher struct {
	manager  *Manager
	executor *Executor
	actions  ActionSource
	log      logrus.FieldLogger

	sem  *semaphore.Weighted
	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	// guards closed against wg.Add
	mu     sync.Mutex
	closed bool
}

// NewDispatcher creates a Dispatcher running at most parallel plugins at once.
func NewDispatcher(m *Manager, e *Executor, actions ActionSource, parallel int, log logrus.FieldLogger) *Dispatcher {
	if parallel < 1 {
		parallel = 1
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	base, stop := context.WithCancel(context.Background())
	return &Dispatcher{
		manager:  m,
		executor: e,
		actions:  actions,
		log:      log.WithField("component", "dispatcher"),
		sem:      semaphore.NewWeighted(int64(parallel)),
		base:     base,
		stop:     stop,
	}
}

// OnTranscript schedules the actions bound to ev.Gesture.
func (d *Dispatcher) OnTranscript(_ context.Context, ev stream.Event) {
	log := d.log.WithFields(logrus.Fields{"session": ev.SessionID, "gesture": ev.Gesture})

	bound, err := d.actions.ListByGesture(ev.Gesture)
	if err != nil {
		log.WithError(err).Warn("failed to look up actions")
		return
	}

	for _, action := range bound {
		plug, err := d.manager.Get(action.PluginName)
		if err != nil {
			log.WithField("plugin", action.PluginName).Warn("bound plugin is not installed")
			continue
		}
		if !plug.Manifest.SupportsAction(action.ActionName) {
			log.WithFields(logrus.Fields{
				"plugin": action.PluginName,
				"action": action.ActionName,
			}).Warn("plugin does not support action")
			continue
		}

		req := &Request{
			Action:     action.ActionName,
			Gesture:    ev.Gesture,
			Confidence: ev.Confidence,
			SessionID:  ev.SessionID,
			Transcript: ev.Transcript,
			Config:     action.Config,
		}

		if !d.start(plug, action.ID, req, log) {
			return
		}
	}
}

// start launches one run if the dispatcher is open. A run that finds every
// slot busy is dropped. It reports false once the dispatcher is closed.
func (d *Dispatcher) start(plug *Plugin, actionID string, req *Request, log logrus.FieldLogger) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	if !d.sem.TryAcquire(1) {
		log.WithFields(logrus.Fields{"plugin": plug.Manifest.Name, "action": actionID}).
			Warn("all plugin slots busy, action dropped")
		return true
	}
	d.wg.Add(1)
	go d.run(plug, actionID, req, log)
	return true
}

func (d *Dispatcher) run(plug *Plugin, actionID string, req *Request, log logrus.FieldLogger) {
	defer d.wg.Done()
	defer d.sem.Release(1)

	log = log.WithFields(logrus.Fields{"plugin": plug.Manifest.Name, "action": actionID})
	resp, err := d.executor.Execute(d.base, plug, req)
	if err != nil {
		log.WithError(err).Warn("plugin action failed")
		return
	}
	if !resp.Success {
		log.WithField("error", resp.Error).Warn("plugin reported failure")
		return
	}
	log.Debug("plugin action completed")
}

// Wait blocks until every scheduled run has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close cancels pending and running actions and waits for them to exit.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.stop()
	d.wg.Wait()
	return nil
}
