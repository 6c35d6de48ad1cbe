package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/server"
	"github.com/ayusman/mudra/internal/tray"
)

type serveOptions struct {
	staticDir string
	camera    bool
	tray      bool
}

func newServeCmd(c *cli) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the recognition HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.serve(cmd.Context(), opts)
		},
	}
	addServerFlags(cmd, opts)
	return cmd
}

func newCameraCmd(c *cli) *cobra.Command {
	opts := &serveOptions{camera: true}
	cmd := &cobra.Command{
		Use:   "camera",
		Short: "Recognize gestures from a local camera",
		Long: "Run the HTTP API together with a local camera pipeline feeding the default\n" +
			"session. The camera preview is served at /api/preview.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.serve(cmd.Context(), opts)
		},
	}
	addServerFlags(cmd, opts)

	flags := cmd.Flags()
	flags.Int("device", 0, "camera device index")
	flags.Int("fps", 15, "frame rate while the scene is moving")
	flags.Int("idle-fps", 5, "frame rate while the scene is still")
	flags.BoolVar(&opts.tray, "tray", false, "show a system tray menu")
	return cmd
}

func addServerFlags(cmd *cobra.Command, opts *serveOptions) {
	flags := cmd.Flags()
	flags.String("addr", ":8000", "HTTP listen address")
	flags.StringVar(&opts.staticDir, "static", "", "directory served at /ui/ (default: search for web/)")
	flags.Bool("embedded-nats", false, "publish gesture events on an in-process NATS server")
}

// serve runs the service until SIGINT or SIGTERM.
func (c *cli) serve(parent context.Context, opts *serveOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := c.log
	log.WithField("version", version).Info("mudra starting")

	rt, err := buildServices(ctx, c.cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	var (
		pipeline *app.App
		menu     *tray.Tray
	)
	if opts.camera {
		pipeline, err = app.New(app.Config{
			Camera:       capture.NewCamera(cameraConfig(c.cfg.Camera)),
			Orchestrator: rt.orchestrator,
			State:        rt.registry.Default(),
			IdleFPS:      c.cfg.Camera.IdleFPS,
			ActiveFPS:    c.cfg.Camera.FPS,
			Logger:       log,
		})
		if err != nil {
			return err
		}
		if opts.tray {
			menu = newTray(pipeline, rt, c.cfg.Server.Addr)
			rt.orchestrator.AddListener(menu)
		}
	}

	staticDir := opts.staticDir
	if staticDir == "" {
		staticDir = findWebDir()
	}
	if staticDir != "" {
		log.WithField("dir", staticDir).Info("serving web UI at /ui/")
	}

	srvCfg := server.Config{
		Orchestrator:   rt.orchestrator,
		Registry:       rt.registry,
		Store:          rt.store,
		Plugins:        rt.plugins,
		MetricsHandler: rt.metricsHandler,
		StaticDir:      staticDir,
		CORSOrigins:    c.cfg.Server.CORSOrigins,
		MaxFrameBytes:  c.cfg.Server.MaxFrameBytes,
		Logger:         log,
	}
	if pipeline != nil {
		srvCfg.Preview = pipeline
	}
	srv := server.New(srvCfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx, c.cfg.Server.Addr)
	})
	if pipeline != nil {
		g.Go(func() error {
			if err := pipeline.Run(gctx); err != nil {
				log.WithError(err).Error("camera pipeline failed")
				return err
			}
			return nil
		})
	}

	if menu != nil {
		menu.OnQuit(stop)
		go func() {
			<-gctx.Done()
			menu.Quit()
		}()
		// systray needs the main goroutine on macOS
		menu.Run()
		stop()
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("mudra stopped")
	return nil
}

func cameraConfig(c config.CameraConfig) capture.Config {
	return capture.Config{
		Device: c.Device,
		Width:  c.Width,
		Height: c.Height,
		FPS:    c.FPS,
	}
}

// findWebDir searches for the web UI directory in common locations:
// "web", "../web", "../../web" and ~/.mudra/web.
func findWebDir() string {
	for _, p := range []string{"web", "../web", "../../web", filepath.Join(config.Dir(), "web")} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}
