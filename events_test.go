package courier

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rbaliyan/event/v3"
	"github.com/redis/go-redis/v9"

	"github.com/kmehta/courier/directory"
	"github.com/kmehta/courier/store/memory"
)

func waitForEvent(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

// setupRedisTestService builds a connected service over a miniredis-backed
// event transport. The default noop transport drops all deliveries, so
// subscription tests need a real transport.
func setupRedisTestService(t *testing.T, users ...*directory.User) Service {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	svc, err := NewService(
		WithStore(memory.New()),
		WithDirectory(directory.NewStatic(users...)),
		WithRedisClient(client),
	)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	if err := svc.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { svc.Close(context.Background()) })
	return svc
}

func TestEvents(t *testing.T) {
	ctx := context.Background()
	svc := setupRedisTestService(t, testUsers()...)

	t.Run("message sent", func(t *testing.T) {
		got := make(chan struct{}, 1)
		var captured MessageSentEvent
		svc.Events().MessageSent.Subscribe(ctx, func(_ context.Context, _ event.Event[MessageSentEvent], data MessageSentEvent) error {
			captured = data
			select {
			case got <- struct{}{}:
			default:
			}
			return nil
		})

		result := mustSend(t, svc.Client("u-a"), "event test", "x", "b@x.com", "ghost@x.com")
		waitForEvent(t, got, "MessageSent")

		if captured.MessageID != result.Message.GetID() {
			t.Errorf("event message ID = %q, want %q", captured.MessageID, result.Message.GetID())
		}
		if captured.SenderID != "u-a" {
			t.Errorf("event sender = %q, want u-a", captured.SenderID)
		}
		if len(captured.RecipientIDs) != 1 || captured.RecipientIDs[0] != "u-b" {
			t.Errorf("event recipients = %v, want [u-b]", captured.RecipientIDs)
		}
		if !captured.Partial {
			t.Error("event should report partial delivery")
		}
	})

	t.Run("message read", func(t *testing.T) {
		got := make(chan struct{}, 1)
		var captured MessageReadEvent
		svc.Events().MessageRead.Subscribe(ctx, func(_ context.Context, _ event.Event[MessageReadEvent], data MessageReadEvent) error {
			captured = data
			select {
			case got <- struct{}{}:
			default:
			}
			return nil
		})

		result := mustSend(t, svc.Client("u-a"), "read event", "x", "b@x.com")
		if err := svc.Client("u-b").MarkRead(ctx, result.Message.GetID()); err != nil {
			t.Fatalf("failed to mark read: %v", err)
		}
		waitForEvent(t, got, "MessageRead")

		if captured.UserID != "u-b" || !captured.IsRead {
			t.Errorf("unexpected read event: %+v", captured)
		}
	})

	t.Run("record deleted", func(t *testing.T) {
		got := make(chan struct{}, 1)
		var captured RecordDeletedEvent
		svc.Events().RecordDeleted.Subscribe(ctx, func(_ context.Context, _ event.Event[RecordDeletedEvent], data RecordDeletedEvent) error {
			captured = data
			select {
			case got <- struct{}{}:
			default:
			}
			return nil
		})

		result := mustSend(t, svc.Client("u-a"), "delete event", "x", "a@x.com")
		if _, err := svc.Client("u-a").Delete(ctx, result.Message.GetID()); err != nil {
			t.Fatalf("failed to delete: %v", err)
		}
		waitForEvent(t, got, "RecordDeleted")

		if !captured.Cascaded {
			t.Error("self-send delete should cascade")
		}
	})
}

func TestEventsRedisTransport(t *testing.T) {
	ctx := context.Background()
	svc := setupRedisTestService(t, testUsers()...)

	got := make(chan struct{}, 1)
	svc.Events().MessageSent.Subscribe(ctx, func(_ context.Context, _ event.Event[MessageSentEvent], _ MessageSentEvent) error {
		select {
		case got <- struct{}{}:
		default:
		}
		return nil
	})

	mustSend(t, svc.Client("u-a"), "over redis", "x", "b@x.com")
	waitForEvent(t, got, "MessageSent over redis")
}
