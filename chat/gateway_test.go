package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/relaylab/serialterm/terminal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGatewayMessengerRoundTrip(t *testing.T) {
	gw := NewGateway(testLogger())
	ctx := context.Background()

	id, err := gw.SendMessage(ctx, "chan-1", "hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	got, err := gw.FetchMessage(ctx, "chan-1", id)
	if err != nil {
		t.Fatalf("FetchMessage: %v", err)
	}
	if got != "hello" {
		t.Errorf("fetched %q, want %q", got, "hello")
	}

	if err := gw.EditMessage(ctx, "chan-1", id, "edited"); err != nil {
		t.Fatalf("EditMessage: %v", err)
	}
	got, err = gw.FetchMessage(ctx, "chan-1", id)
	if err != nil {
		t.Fatalf("FetchMessage after edit: %v", err)
	}
	if got != "edited" {
		t.Errorf("fetched %q after edit, want %q", got, "edited")
	}

	if err := gw.DeleteMessage(ctx, "chan-1", id); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if _, err := gw.FetchMessage(ctx, "chan-1", id); !errors.Is(err, terminal.ErrMessageNotFound) {
		t.Errorf("FetchMessage after delete returned %v, want ErrMessageNotFound", err)
	}
	if err := gw.DeleteMessage(ctx, "chan-1", id); !errors.Is(err, terminal.ErrMessageNotFound) {
		t.Errorf("second delete returned %v, want ErrMessageNotFound", err)
	}
}

func TestGatewayMessengerUnknownTargets(t *testing.T) {
	gw := NewGateway(testLogger())
	ctx := context.Background()

	if _, err := gw.FetchMessage(ctx, "nowhere", "m1"); !errors.Is(err, terminal.ErrMessageNotFound) {
		t.Errorf("FetchMessage on unknown channel returned %v, want ErrMessageNotFound", err)
	}
	if err := gw.EditMessage(ctx, "nowhere", "m1", "x"); !errors.Is(err, terminal.ErrMessageNotFound) {
		t.Errorf("EditMessage on unknown channel returned %v, want ErrMessageNotFound", err)
	}

	// Known channel, unknown message.
	if _, err := gw.SendMessage(ctx, "chan-2", "seed"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := gw.EditMessage(ctx, "chan-2", "missing", "x"); !errors.Is(err, terminal.ErrMessageNotFound) {
		t.Errorf("EditMessage on unknown message returned %v, want ErrMessageNotFound", err)
	}
}

func TestGatewayEvictsOldestMessages(t *testing.T) {
	gw := NewGateway(testLogger())
	ctx := context.Background()

	first, err := gw.SendMessage(ctx, "chan-1", "oldest")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	var last terminal.MessageID
	for i := 0; i < retainedMessages; i++ {
		if last, err = gw.SendMessage(ctx, "chan-1", "filler"); err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
	}

	if _, err := gw.FetchMessage(ctx, "chan-1", first); !errors.Is(err, terminal.ErrMessageNotFound) {
		t.Errorf("FetchMessage on evicted message returned %v, want ErrMessageNotFound", err)
	}
	if _, err := gw.FetchMessage(ctx, "chan-1", last); err != nil {
		t.Errorf("FetchMessage on newest message returned %v, want nil", err)
	}
}

func TestGatewayMessagesIsolatedPerChannel(t *testing.T) {
	gw := NewGateway(testLogger())
	ctx := context.Background()

	id, err := gw.SendMessage(ctx, "chan-a", "only here")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if _, err := gw.FetchMessage(ctx, "chan-b", id); !errors.Is(err, terminal.ErrMessageNotFound) {
		t.Errorf("FetchMessage on other channel returned %v, want ErrMessageNotFound", err)
	}
}
