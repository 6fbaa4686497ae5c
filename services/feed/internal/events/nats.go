// Package events publishes committed like toggles to NATS JetStream.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/feed-platform/internal/platform/natsconn"
	"github.com/example/feed-platform/services/feed/internal/karma"
)

const (
	SubjectLikeToggled = "feed.likes.toggled"
	streamName         = "FEED"

	maxPendingAcks = 256
	drainTimeout   = 5 * time.Second
)

type jetStream interface {
	PublishAsync(subj string, data []byte, opts ...nats.PubOpt) (nats.PubAckFuture, error)
}

// Publisher implements karma.Notifier. Publishing never fails the caller:
// errors are logged and the toggle stays committed.
type Publisher struct {
	nc  *nats.Conn
	jsc nats.JetStreamContext
	js  jetStream
	log *zap.Logger
}

// New connects to NATS and ensures the FEED stream exists.
// If natsURL is empty, returns a no-op publisher (stub).
func New(natsURL string, log *zap.Logger) (*Publisher, error) {
	if natsURL == "" {
		log.Warn("NATS_URL not set, like events will not be published (stub mode)")
		return &Publisher{log: log}, nil
	}

	nc, err := natsconn.Connect(natsconn.Options{URL: natsURL, Name: "feed", Log: log})
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream(
		nats.PublishAsyncMaxPending(maxPendingAcks),
		nats.PublishAsyncErrHandler(func(_ nats.JetStream, msg *nats.Msg, err error) {
			log.Warn("like event not acknowledged",
				zap.String("subject", msg.Subject),
				zap.String("event_id", msg.Header.Get(nats.MsgIdHdr)),
				zap.Error(err))
		}),
	)
	if err != nil {
		nc.Close()
		return nil, err
	}
	if err := natsconn.EnsureStream(js, streamName, "feed.>"); err != nil {
		log.Warn("failed to ensure NATS stream", zap.String("stream", streamName), zap.Error(err))
	}

	log.Info("NATS publisher initialised", zap.String("stream", streamName))
	return &Publisher{nc: nc, jsc: js, js: js, log: log}, nil
}

// Event is the payload published to NATS.
type Event struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	Data      karma.ToggleEvent `json:"data"`
}

func (p *Publisher) LikeToggled(_ context.Context, ev karma.ToggleEvent) {
	evt := Event{EventID: uuid.NewString(), EventType: "like.toggled", Data: ev}
	if p.js == nil {
		p.log.Debug("NATS stub: skipping publish", zap.String("subject", SubjectLikeToggled), zap.String("event_id", evt.EventID))
		return
	}

	data, err := json.Marshal(evt)
	if err != nil {
		p.log.Error("marshal like event", zap.Error(err))
		return
	}
	// Acks arrive on the async error handler; the toggle never waits on them.
	if _, err := p.js.PublishAsync(SubjectLikeToggled, data, nats.MsgId(evt.EventID)); err != nil {
		p.log.Warn("publish like event", zap.String("event_id", evt.EventID), zap.Error(err))
		return
	}
	p.log.Debug("NATS event published",
		zap.String("subject", SubjectLikeToggled),
		zap.String("event_id", evt.EventID),
	)
}

// JetStream exposes the shared context for other publishers; nil in stub mode.
func (p *Publisher) JetStream() nats.JetStreamContext {
	return p.jsc
}

// Close waits briefly for outstanding acks, then drains the connection.
// Safe on a stub publisher.
func (p *Publisher) Close() error {
	if p.nc == nil {
		return nil
	}
	select {
	case <-p.jsc.PublishAsyncComplete():
	case <-time.After(drainTimeout):
		p.log.Warn("like events still pending at shutdown", zap.Int("pending", p.jsc.PublishAsyncPending()))
	}
	return p.nc.Drain()
}
