package broadcast

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/job-scanner/internal/logging"
	"github.com/redis/go-redis/v9"
)

func TestRedisBroadcaster_PublishCycleSummary(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	logger := logging.NewLogger(logging.LevelError, logging.FormatText)
	b := NewRedisBroadcaster(client, "cycles", "scrapes", logger)

	ctx := context.Background()
	sub := client.Subscribe(ctx, "cycles")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	summary := &CycleSummary{
		StartedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		JobsRemoved: 4,
		Revalidated: 9,
	}
	if err := b.PublishCycleSummary(ctx, summary); err != nil {
		t.Fatalf("PublishCycleSummary() error = %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var got CycleSummary
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatalf("payload is not valid JSON: %v", err)
		}
		if got.JobsRemoved != 4 || got.Revalidated != 9 {
			t.Errorf("got %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestRedisBroadcaster_PublishErrorSurfaces(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()

	logger := logging.NewLogger(logging.LevelError, logging.FormatText)
	b := NewRedisBroadcaster(client, "cycles", "scrapes", logger)

	if err := b.PublishScrapeSummary(context.Background(), &ScrapeSummary{RunID: "r1"}); err == nil {
		t.Fatal("expected publish error when redis is down")
	}
}

func TestNopBroadcaster(t *testing.T) {
	var b Broadcaster = NopBroadcaster{}

	if err := b.PublishCycleSummary(context.Background(), &CycleSummary{}); err != nil {
		t.Errorf("PublishCycleSummary() error = %v", err)
	}
	if err := b.PublishScrapeSummary(context.Background(), &ScrapeSummary{}); err != nil {
		t.Errorf("PublishScrapeSummary() error = %v", err)
	}
}
