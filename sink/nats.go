package sink

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const natsFlushTimeout = 5 * time.Second

// NatsSink publishes each record to a core NATS subject and waits for the
// server to receive it before returning.
type NatsSink struct {
	nc      *nats.Conn
	subject string
}

func NewNatsSink(url, subject string) (*NatsSink, error) {
	if url == "" {
		return nil, fmt.Errorf("nats sink requires a url")
	}
	if subject == "" {
		return nil, fmt.Errorf("nats sink requires a subject")
	}

	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NatsSink{nc: nc, subject: subject}, nil
}

func (n *NatsSink) Publish(key string, line []byte) error {
	msg := &nats.Msg{
		Subject: n.subject,
		Data:    append([]byte(nil), line...),
		Header:  nats.Header{"key": []string{key}},
	}
	if err := n.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", n.subject, err)
	}
	if err := n.nc.FlushTimeout(natsFlushTimeout); err != nil {
		return fmt.Errorf("failed to flush %s: %w", n.subject, err)
	}
	return nil
}

func (n *NatsSink) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}
