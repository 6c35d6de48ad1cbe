// Command mudra recognizes sign-language gestures from camera frames and
// serves the running transcript over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "mudra: %v\n", err)
		os.Exit(1)
	}
}

// cli carries state shared by every subcommand.
type cli struct {
	v          *viper.Viper
	configPath string
	cfg        *config.Config
	log        *logrus.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{v: config.New()}

	root := &cobra.Command{
		Use:           "mudra",
		Short:         "Sign-language gesture recognition service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := c.bindFlags(cmd); err != nil {
				return err
			}
			return c.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", "", "path to mudra.yaml (default: ./mudra.yaml or ~/.mudra/mudra.yaml)")
	flags.String("log-level", "info", "log level: trace, debug, info, warn, error")
	flags.String("log-format", "text", "log format: text or json")

	root.AddCommand(
		newServeCmd(c),
		newCameraCmd(c),
		newVocabCmd(c),
		newTailCmd(c),
	)
	return root
}

// flagKeys maps command-line flags to the configuration keys they override.
var flagKeys = map[string]string{
	"log-level":     "log.level",
	"log-format":    "log.format",
	"addr":          "server.addr",
	"embedded-nats": "bus.embedded",
	"device":        "camera.device",
	"fps":           "camera.fps",
	"idle-fps":      "camera.idle_fps",
	"nats":          "bus.servers",
}

// bindFlags binds the flags of the command being run to their keys.
func (c *cli) bindFlags(cmd *cobra.Command) error {
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := c.v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return nil
}

// load reads the configuration and builds the logger.
func (c *cli) load() error {
	cfg, err := config.Load(c.v, c.configPath)
	if err != nil {
		return err
	}
	log, err := observe.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.log = log
	return nil
}
