package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/ayusman/mudra/internal/bus"
	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/feature"
	"github.com/ayusman/mudra/internal/observe"
	"github.com/ayusman/mudra/internal/plugin"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/stream"
)

// services holds the long-lived components of a running service.
type services struct {
	log            logrus.FieldLogger
	orchestrator   *stream.Orchestrator
	registry       *stream.Registry
	store          *store.Store
	plugins        *plugin.Manager
	metricsHandler http.Handler

	closers []func() error
}

// buildServices constructs every component cfg enables. On error, whatever
// was already started is closed.
func buildServices(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (_ *services, err error) {
	rt := &services{log: log}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	shutdownTelemetry, metricsHandler, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "mudra",
		ServiceVersion: version,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	rt.metricsHandler = metricsHandler
	rt.onClose(func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTelemetry(sctx)
	})

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	vocab, err := loadVocabulary(cfg.Stream.Vocabulary)
	if err != nil {
		return nil, err
	}
	engine := cfg.Stream.Engine()

	extractor, err := feature.NewHolisticExtractor(feature.Config{
		ScriptPath:       cfg.Extractor.Script,
		PythonPath:       cfg.Extractor.Python,
		MinDetectionConf: cfg.Extractor.MinDetectionConfidence,
		MinTrackingConf:  cfg.Extractor.MinTrackingConfidence,
	})
	if err != nil {
		return nil, fmt.Errorf("init extractor: %w", err)
	}
	rt.onClose(extractor.Close)

	cls, err := classifier.NewDNNClassifier(classifier.DNNConfig{
		ModelPath:  cfg.Classifier.Model,
		ConfigPath: cfg.Classifier.Config,
		Backend:    cfg.Classifier.Backend,
		Target:     cfg.Classifier.Target,
		Frames:     engine.WindowSize,
		Features:   feature.Length,
		Vocabulary: vocab,
	})
	if err != nil {
		return nil, fmt.Errorf("init classifier: %w", err)
	}
	rt.onClose(cls.Close)

	rt.orchestrator, err = stream.New(extractor, cls, vocab, stream.Options{
		Config:  engine,
		Metrics: metrics,
		Logger:  log,
	})
	if err != nil {
		return nil, err
	}
	rt.registry = stream.NewRegistry(rt.orchestrator, cfg.Server.MaxSessions, cfg.Server.SessionTTL)

	log.WithFields(logrus.Fields{
		"labels":      vocab.Labels(),
		"window":      engine.WindowSize,
		"history":     engine.HistorySize,
		"min_votes":   engine.MinVotes,
		"threshold":   engine.Threshold,
		"transcript":  engine.TranscriptCap,
		"model":       cfg.Classifier.Model,
		"max_session": cfg.Server.MaxSessions,
	}).Info("recognition engine ready")

	if cfg.Store.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		rt.store, err = store.New(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		rt.onClose(rt.store.Close)
		rt.orchestrator.AddListener(store.NewRecorder(rt.store, log))
		log.WithField("path", cfg.Store.Path).Info("recording transcript history")
	}

	rt.plugins = plugin.NewManager(cfg.Plugins.Dir, log)
	if err := rt.plugins.Discover(); err != nil {
		log.WithError(err).Warn("plugin discovery failed")
	}
	if rt.store != nil {
		dispatcher := plugin.NewDispatcher(rt.plugins, plugin.NewExecutor(cfg.Plugins.Timeout),
			rt.store.Actions(), cfg.Plugins.Parallel, log)
		rt.orchestrator.AddListener(dispatcher)
		rt.onClose(dispatcher.Close)
	}

	if cfg.Bus.Enabled() {
		servers := cfg.Bus.Servers
		if cfg.Bus.Embedded {
			embedded, err := bus.StartEmbedded(cfg.Bus.EmbeddedHost, cfg.Bus.EmbeddedPort, log)
			if err != nil {
				return nil, err
			}
			rt.onClose(func() error { embedded.Shutdown(); return nil })
			servers = append([]string{embedded.URL()}, servers...)
		}
		publisher, err := bus.Connect(bus.Config{
			Servers:       servers,
			SubjectPrefix: cfg.Bus.SubjectPrefix,
			Token:         cfg.Bus.Token,
		}, log)
		if err != nil {
			return nil, err
		}
		rt.onClose(publisher.Close)
		rt.orchestrator.AddListener(publisher)
	}

	return rt, nil
}

func loadVocabulary(path string) (*classifier.Vocabulary, error) {
	if path == "" {
		return classifier.DefaultVocabulary(), nil
	}
	vocab, err := classifier.LoadVocabulary(path)
	if err != nil {
		return nil, fmt.Errorf("load vocabulary: %w", err)
	}
	return vocab, nil
}

func (rt *services) onClose(fn func() error) {
	rt.closers = append(rt.closers, fn)
}

// Close releases components in reverse order of construction.
func (rt *services) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	if err := errors.Join(errs...); err != nil {
		rt.log.WithError(err).Warn("errors during shutdown")
		return err
	}
	return nil
}
