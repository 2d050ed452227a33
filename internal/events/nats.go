package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/leapstack-labs/leapguard/pkg/core"
)

// DefaultSubjectPrefix prefixes every published subject.
const DefaultSubjectPrefix = "leapguard"

// natsConn is the part of *nats.Conn the publisher uses.
type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher publishes JSON encoded records to NATS subjects
// <prefix>.violations.<type> and <prefix>.monitor_events.<kind>.
type NATSPublisher struct {
	conn   natsConn
	prefix string
	logger *slog.Logger
}

// DialNATS connects to url and returns a publisher.
func DialNATS(url, prefix string, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	nc, err := nats.Connect(url,
		nats.Name("leapguard"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	return newNATSPublisher(nc, prefix, logger), nil
}

func newNATSPublisher(conn natsConn, prefix string, logger *slog.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger}
}

// ViolationSubject returns the subject a violation of type t goes to.
func (p *NATSPublisher) ViolationSubject(t core.ViolationType) string {
	return p.prefix + ".violations." + string(t)
}

// EventSubject returns the subject a monitor event of kind k goes to.
func (p *NATSPublisher) EventSubject(k core.MonitorEventKind) string {
	return p.prefix + ".monitor_events." + string(k)
}

// PublishViolation implements Publisher.
func (p *NATSPublisher) PublishViolation(_ context.Context, v *core.ViolationRecord) error {
	return p.publish(p.ViolationSubject(v.ViolationType), v)
}

// PublishMonitorEvent implements Publisher.
func (p *NATSPublisher) PublishMonitorEvent(_ context.Context, e *core.MonitorEvent) error {
	return p.publish(p.EventSubject(e.Kind), e)
}

func (p *NATSPublisher) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", subject, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	p.logger.Debug("published", "subject", subject, "bytes", len(data))
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
