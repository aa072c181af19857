// Package eventbus wraps an embedded, in-process NATS server so the broker,
// recorder supervisor and lifecycle supervisor can fan out state-change
// notifications without importing one another. Grounded on the teacher's
// api/pkg/pubsub/nats.go (server.NewServer + NewInMemoryNats), trimmed down
// to the Publish/Subscribe surface this control plane actually needs --
// there is no JetStream persistence requirement here, so the stream/consumer
// machinery of the teacher's fuller pubsub package is dropped.
package eventbus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Bus is an embedded NATS server plus one internal client connection.
type Bus struct {
	embedded *server.Server
	conn     *nats.Conn
}

// New starts an embedded NATS server bound to an ephemeral loopback port and
// connects a client to it. There is no external NATS use case here -- this
// is purely an in-process pub/sub backbone, so the server never listens
// beyond loopback.
func New() (*Bus, error) {
	opts := &server.Options{
		Host:        "127.0.0.1",
		Port:        -1, // let the OS pick a free port
		NoLog:       true,
		NoSigs:      true,
		DontListen:  false,
		AllowNonTLS: true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded nats server: %w", err)
	}
	go ns.Start()

	if !ns.ReadyForConnections(4 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded nats server did not become ready")
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("connect to embedded nats server: %w", err)
	}

	log.Debug().Str("url", ns.ClientURL()).Msg("embedded event bus started")
	return &Bus{embedded: ns, conn: nc}, nil
}

// Publish sends payload on subject. Publish failures are logged and
// swallowed by callers that treat the bus as best-effort telemetry (see
// broker.revoke, lifecycle logging) -- losing a notification must never
// break the mutation that produced it.
func (b *Bus) Publish(subject string, payload []byte) error {
	return b.conn.Publish(subject, payload)
}

// Subscribe registers handler for subject, returning an unsubscribe func.
func (b *Bus) Subscribe(subject string, handler func(payload []byte)) (func(), error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// Close drains the client connection and shuts down the embedded server.
func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
	if b.embedded != nil {
		b.embedded.Shutdown()
		b.embedded.WaitForShutdown()
	}
}
