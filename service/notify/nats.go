package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"IMCore/service/storage"
)

// NatsConfig configures the offline-notification publisher.
type NatsConfig struct {
	Servers       string // comma-separated URLs
	Subject       string
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// NatsNotifier publishes stored-message events for the notification
// service to fan out to offline devices.
type NatsNotifier struct {
	nc      *nats.Conn
	subject string
}

func NewNatsNotifier(cfg NatsConfig) (*NatsNotifier, error) {
	if cfg.Servers == "" {
		return nil, errors.New("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	nc, err := nats.Connect(cfg.Servers,
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
	)
	if err != nil {
		return nil, errors.Wrap(err, "nats connect")
	}
	return &NatsNotifier{nc: nc, subject: cfg.Subject}, nil
}

func (n *NatsNotifier) MessageStored(ctx context.Context, rec *storage.MessageRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal record")
	}
	if err := n.nc.Publish(n.subject, data); err != nil {
		return errors.Wrap(err, "publish")
	}
	// Publish is fire-and-forget; flush within the caller's budget so a
	// dead broker surfaces as an error instead of silent buffering.
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(2 * time.Second)
	}
	return n.nc.FlushTimeout(time.Until(deadline))
}

func (n *NatsNotifier) Close() {
	n.nc.Close()
}
