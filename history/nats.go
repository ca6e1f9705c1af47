package history

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/velocitydb/velocity/encoding"
)

// NatsSink publishes entries on a core NATS subject.
// The connection id travels in the "connection" header.
type NatsSink struct {
	nc      *nats.Conn
	subject string
	format  encoding.Format
}

// NewNatsSink connects to url. The connection keeps retrying in the background
// when the server is not reachable yet.
func NewNatsSink(url, subject string, format encoding.Format) (*NatsSink, error) {
	if subject == "" {
		return nil, fmt.Errorf("nats sink requires a subject")
	}

	nc, err := nats.Connect(url,
		nats.Name("velocity-history"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NatsSink{nc: nc, subject: subject, format: format}, nil
}

// Subject returns the subject entries are published on.
func (n *NatsSink) Subject() string {
	return n.subject
}

func (n *NatsSink) Write(e Entry) error {
	msg, err := encodeMessage(n.subject, n.format, e)
	if err != nil {
		return err
	}
	if err := n.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", n.subject, err)
	}
	return nil
}

// Close closes the NATS connection.
func (n *NatsSink) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}

func encodeMessage(subject string, format encoding.Format, e Entry) (*nats.Msg, error) {
	data, err := format.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode history entry: %w", err)
	}
	return &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"connection":   []string{e.ConnectionID},
			"Content-Type": []string{format.ContentType()},
		},
	}, nil
}
