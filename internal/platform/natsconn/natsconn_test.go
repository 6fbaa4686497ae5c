package natsconn

import (
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

func TestEnvFallbacks(t *testing.T) {
	t.Setenv("NATSCONN_TEST_INT", "7")
	t.Setenv("NATSCONN_TEST_BAD_INT", "-3")
	t.Setenv("NATSCONN_TEST_DUR", "3s")
	t.Setenv("NATSCONN_TEST_BAD_DUR", "soon")

	if v := envInt("NATSCONN_TEST_NONEXISTENT", 42); v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
	if v := envInt("NATSCONN_TEST_INT", 42); v != 7 {
		t.Fatalf("expected 7, got %d", v)
	}
	if v := envInt("NATSCONN_TEST_BAD_INT", 42); v != 42 {
		t.Fatalf("expected fallback for negative, got %d", v)
	}
	if v := envDuration("NATSCONN_TEST_DUR", 5*time.Second); v != 3*time.Second {
		t.Fatalf("expected 3s, got %s", v)
	}
	if v := envDuration("NATSCONN_TEST_BAD_DUR", 5*time.Second); v != 5*time.Second {
		t.Fatalf("expected fallback, got %s", v)
	}
}

func TestNatsOptions_LoggerAddsHandlers(t *testing.T) {
	base := natsOptions(Options{MaxReconnects: 1, ReconnectWait: time.Millisecond})
	withLog := natsOptions(Options{MaxReconnects: 1, ReconnectWait: time.Millisecond, Name: "feed", Log: zap.NewNop()})
	if len(withLog) != len(base)+4 {
		t.Fatalf("expected name and three handlers, got %d vs %d options", len(withLog), len(base))
	}
}

func TestConnect_InvalidURL(t *testing.T) {
	_, err := Connect(Options{
		URL:           "nats://127.0.0.1:19999",
		MaxReconnects: 0,
		ReconnectWait: 10 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected error connecting to invalid NATS URL")
	}
}

type fakeStreams struct {
	infoErr error
	added   []*nats.StreamConfig
	addErr  error
}

func (f *fakeStreams) StreamInfo(string, ...nats.JSOpt) (*nats.StreamInfo, error) {
	return nil, f.infoErr
}

func (f *fakeStreams) AddStream(cfg *nats.StreamConfig, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	f.added = append(f.added, cfg)
	return nil, f.addErr
}

func TestEnsureStream(t *testing.T) {
	existing := &fakeStreams{}
	if err := EnsureStream(existing, "FEED", "feed.>"); err != nil || len(existing.added) != 0 {
		t.Fatalf("existing stream must not be re-added: %v %v", err, existing.added)
	}

	missing := &fakeStreams{infoErr: nats.ErrStreamNotFound}
	if err := EnsureStream(missing, "FEED", "feed.>"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if len(missing.added) != 1 || missing.added[0].Subjects[0] != "feed.>" {
		t.Fatalf("unexpected stream config %+v", missing.added)
	}

	broken := &fakeStreams{infoErr: errors.New("timeout")}
	if err := EnsureStream(broken, "FEED", "feed.>"); err == nil || len(broken.added) != 0 {
		t.Fatalf("expected info error to surface, got %v", err)
	}
}
