package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ayusman/mudra/internal/bus"
)

func newTailCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print gesture events published on NATS",
		RunE: func(cmd *cobra.Command, args []string) error {
			servers := c.cfg.Bus.Servers
			if len(servers) == 0 {
				return errors.New("no NATS servers configured; set bus.servers or --nats")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			p, err := bus.Connect(bus.Config{Servers: servers, Token: c.cfg.Bus.Token}, c.log)
			if err != nil {
				return err
			}
			defer p.Close()

			out := cmd.OutOrStdout()
			err = bus.Subscribe(ctx, p.Conn(), c.cfg.Bus.SubjectPrefix, func(subject string, m bus.Message) {
				fmt.Fprintf(out, "%s\t%s\t%s\t%.2f\t%s\n",
					m.At.Format("15:04:05"), m.SessionID, m.Gesture, m.Confidence, strings.Join(m.Transcript, " "))
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringSlice("nats", nil, "NATS server URLs")
	return cmd
}
