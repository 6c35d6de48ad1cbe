package store

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/mudra/internal/stream"
)

// Recorder persists transcript events. It implements stream.Listener.
type Recorder struct {
	store *Store
	log   logrus.FieldLogger
}

// NewRecorder creates a Recorder writing to s.
func NewRecorder(s *Store, log logrus.FieldLogger) *Recorder {
	return &Recorder{store: s, log: log.WithField("component", "recorder")}
}

// OnTranscript records ev. Failures are logged and never reach the stream.
func (r *Recorder) OnTranscript(_ context.Context, ev stream.Event) {
	log := r.log.WithFields(logrus.Fields{"session": ev.SessionID, "gesture": ev.Gesture})

	if err := r.store.Sessions().Touch(ev.SessionID, ""); err != nil {
		log.WithError(err).Warn("failed to touch session")
		return
	}
	err := r.store.Events().Create(&Event{
		SessionID:  ev.SessionID,
		Gesture:    ev.Gesture,
		Confidence: ev.Confidence,
		Transcript: ev.Transcript,
		CreatedAt:  ev.At,
	})
	if err != nil {
		log.WithError(err).Warn("failed to record gesture event")
	}
}
