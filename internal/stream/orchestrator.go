// Package stream turns a sequence of camera frames into a debounced
// transcript of recognized gestures.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/feature"
	"github.com/ayusman/mudra/internal/observe"
)

const tracerName = "github.com/ayusman/mudra/internal/stream"

// Result is the outcome of processing one frame.
type Result struct {
	SessionID  string   `json:"session_id,omitempty"`
	Gesture    string   `json:"gesture"`
	Confidence float64  `json:"confidence"`
	Transcript []string `json:"transcript"`
	Phase      Phase    `json:"phase"`
	Appended   bool     `json:"-"`
}

// Event describes a new transcript entry.
type Event struct {
	SessionID  string
	Gesture    string
	Confidence float64
	Transcript []string
	At         time.Time
}

// Listener is notified after a gesture is appended to a transcript. It is
// called outside the session lock, on the goroutine that processed the frame.
type Listener interface {
	OnTranscript(ctx context.Context, ev Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, ev Event)

// OnTranscript calls f(ctx, ev).
func (f ListenerFunc) OnTranscript(ctx context.Context, ev Event) { f(ctx, ev) }

// Options configures an Orchestrator.
type Options struct {
	Config    Config
	Metrics   *observe.Metrics
	Logger    logrus.FieldLogger
	Listeners []Listener
}

// Orchestrator runs decode, extraction, classification and voting for
// any number of sessions. The extractor, classifier and vocabulary are
// shared and read-only; all mutable state lives in State.
type Orchestrator struct {
	extractor  feature.Extractor
	classifier classifier.Classifier
	vocab      *classifier.Vocabulary
	config     Config
	smoother   Smoother
	metrics    *observe.Metrics
	log        logrus.FieldLogger
	tracer     trace.Tracer

	mu        sync.RWMutex
	listeners []Listener
}

// New creates an Orchestrator.
func New(ext feature.Extractor, cls classifier.Classifier, vocab *classifier.Vocabulary, opts Options) (*Orchestrator, error) {
	if ext == nil || cls == nil || vocab == nil {
		return nil, errors.New("stream: extractor, classifier and vocabulary are required")
	}
	if opts.Config == (Config{}) {
		opts.Config = DefaultConfig()
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("stream: %w", err)
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	return &Orchestrator{
		extractor:  ext,
		classifier: cls,
		vocab:      vocab,
		config:     opts.Config,
		smoother: Smoother{
			MinVotes:  opts.Config.MinVotes,
			Threshold: opts.Config.Threshold,
			Labels:    vocab.Len(),
		},
		metrics:   opts.Metrics,
		log:       opts.Logger.WithField("component", "stream"),
		tracer:    otel.Tracer(tracerName),
		listeners: append([]Listener(nil), opts.Listeners...),
	}, nil
}

// Config returns the recognition constants.
func (o *Orchestrator) Config() Config { return o.config }

// Vocabulary returns the label set.
func (o *Orchestrator) Vocabulary() *classifier.Vocabulary { return o.vocab }

// NewState creates an empty session in the warm-up phase.
func (o *Orchestrator) NewState(id string) *State {
	return newState(id, o.config)
}

// AddListener registers l for transcript events.
func (o *Orchestrator) AddListener(l Listener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, l)
}

// Process decodes an encoded image and feeds it to st.
func (o *Orchestrator) Process(ctx context.Context, st *State, data []byte) (Result, error) {
	if len(data) == 0 {
		o.metrics.DecodeErrors.Add(ctx, 1)
		return Result{}, &DecodeError{Reason: "empty payload"}
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		o.metrics.DecodeErrors.Add(ctx, 1)
		return Result{}, &DecodeError{Size: len(data), Reason: err.Error()}
	}
	defer mat.Close()
	if mat.Empty() {
		o.metrics.DecodeErrors.Add(ctx, 1)
		return Result{}, &DecodeError{Size: len(data), Reason: "not an image"}
	}

	return o.ProcessFrame(ctx, st, &mat)
}

// ProcessFrame feeds a decoded frame to st. On any error the session state
// is unchanged.
func (o *Orchestrator) ProcessFrame(ctx context.Context, st *State, frame *gocv.Mat) (Result, error) {
	ctx, span := o.tracer.Start(ctx, "stream.process",
		trace.WithAttributes(attribute.String("session.id", st.id)))
	defer span.End()

	start := time.Now()
	vec, err := o.extractor.Extract(frame)
	o.metrics.ExtractionDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "extract")
		return Result{}, fmt.Errorf("extract keypoints: %w", err)
	}
	if len(vec) != feature.Length {
		err := fmt.Errorf("%w: extracted %d features, want %d",
			classifier.ErrDimensionMismatch, len(vec), feature.Length)
		span.RecordError(err)
		span.SetStatus(codes.Error, "extract")
		return Result{}, err
	}
	pose, face, left, right := vec.Detected()
	o.log.WithFields(logrus.Fields{
		"session":    st.id,
		"pose":       pose,
		"face":       face,
		"left_hand":  left,
		"right_hand": right,
	}).Debug("keypoints extracted")

	st.mu.Lock()
	res, err := o.step(ctx, st, vec)
	st.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "classify")
		return Result{}, err
	}

	span.SetAttributes(
		attribute.String("phase", res.Phase.String()),
		attribute.String("gesture", res.Gesture),
	)
	o.metrics.RecordFrame(ctx, res.Phase.String())
	if res.Gesture != "" {
		o.metrics.RecordConfirmation(ctx, res.Gesture, res.Appended)
	}
	if res.Appended {
		o.log.WithFields(logrus.Fields{
			"session":    st.id,
			"gesture":    res.Gesture,
			"confidence": res.Confidence,
		}).Info("gesture appended to transcript")
		o.notify(ctx, Event{
			SessionID:  st.id,
			Gesture:    res.Gesture,
			Confidence: res.Confidence,
			Transcript: res.Transcript,
			At:         time.Now(),
		})
	}

	return res, nil
}

// step applies vec to st. The caller holds st.mu.
func (o *Orchestrator) step(ctx context.Context, st *State, vec feature.Vector) (Result, error) {
	if st.window.Len()+1 < st.window.Cap() {
		st.window.Push(vec)
		st.frames++
		st.updated = time.Now()
		return Result{
			SessionID:  st.id,
			Transcript: st.transcript.Entries(),
			Phase:      PhaseWarmingUp,
		}, nil
	}

	window := st.window.Preview(vec)
	start := time.Now()
	probs, err := o.classifier.Classify(ctx, window)
	o.metrics.InferenceDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		o.metrics.InferenceErrors.Add(ctx, 1)
		return Result{}, &InferenceError{Err: err}
	}
	if len(probs) != o.vocab.Len() {
		o.metrics.InferenceErrors.Add(ctx, 1)
		return Result{}, &InferenceError{Err: fmt.Errorf("%w: %d probabilities for %d labels",
			classifier.ErrDimensionMismatch, len(probs), o.vocab.Len())}
	}

	r := classifier.ArgMax(probs)
	st.window.Push(vec)
	st.frames++
	st.updated = time.Now()

	d := o.smoother.Decide(st.history, r)
	res := Result{
		Confidence: d.Confidence,
		Phase:      PhaseActive,
	}
	if d.Confirmed {
		res.Gesture = o.vocab.Label(d.Label)
		res.Appended = st.transcript.Append(res.Gesture)
	}
	res.Transcript = st.transcript.Entries()
	res.SessionID = st.id
	return res, nil
}

func (o *Orchestrator) notify(ctx context.Context, ev Event) {
	o.mu.RLock()
	listeners := o.listeners
	o.mu.RUnlock()

	for _, l := range listeners {
		l.OnTranscript(ctx, ev)
	}
}
