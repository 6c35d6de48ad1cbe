package bus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/sirupsen/logrus"
)

// EmbeddedServer wraps an in-process NATS server so a single mudra binary
// can publish gesture events without external infrastructure.
type EmbeddedServer struct {
	ns  *server.Server
	log logrus.FieldLogger
}

// StartEmbedded starts a NATS server on host:port. A port of -1 picks a
// random free port.
func StartEmbedded(host string, port int, log logrus.FieldLogger) (*EmbeddedServer, error) {
	opts := &server.Options{
		Host:   host,
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server failed to start within 5 seconds")
	}

	log = log.WithField("component", "nats")
	log.WithField("url", ns.ClientURL()).Info("embedded NATS server started")

	return &EmbeddedServer{
		ns:  ns,
		log: log,
	}, nil
}

// URL returns the client URL of the server.
func (e *EmbeddedServer) URL() string {
	return e.ns.ClientURL()
}

// Shutdown stops the server and waits for it to exit.
func (e *EmbeddedServer) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}
	e.log.Info("shutting down embedded NATS server")
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
