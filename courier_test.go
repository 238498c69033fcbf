package courier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kmehta/courier/directory"
	"github.com/kmehta/courier/store"
	"github.com/kmehta/courier/store/memory"
)

// setupTestService creates a connected service backed by the in-memory store
// and a static directory seeded with the given users.
func setupTestService(t *testing.T, users ...*directory.User) Service {
	t.Helper()
	ctx := context.Background()
	svc, err := NewService(
		WithStore(memory.New()),
		WithDirectory(directory.NewStatic(users...)),
	)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	if err := svc.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { svc.Close(context.Background()) })
	return svc
}

func testUsers() []*directory.User {
	return []*directory.User{
		{ID: "u-a", Email: "a@x.com"},
		{ID: "u-b", Email: "b@x.com"},
		{ID: "u-c", Email: "c@x.com"},
	}
}

func mustSend(t *testing.T, c Client, subject, body string, to ...string) *SendResult {
	t.Helper()
	result, err := c.Send(context.Background(), SendRequest{
		RecipientEmails: to,
		Subject:         subject,
		Body:            body,
	})
	if err != nil {
		t.Fatalf("failed to send: %v", err)
	}
	return result
}

func TestNewService(t *testing.T) {
	t.Run("requires store", func(t *testing.T) {
		_, err := NewService(WithDirectory(directory.NewStatic()))
		if !errors.Is(err, ErrStoreRequired) {
			t.Errorf("expected ErrStoreRequired, got %v", err)
		}
	})

	t.Run("requires directory", func(t *testing.T) {
		_, err := NewService(WithStore(memory.New()))
		if !errors.Is(err, ErrDirectoryRequired) {
			t.Errorf("expected ErrDirectoryRequired, got %v", err)
		}
	})

	t.Run("valid configuration", func(t *testing.T) {
		svc, err := NewService(
			WithStore(memory.New()),
			WithDirectory(directory.NewStatic()),
		)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if svc.IsConnected() {
			t.Error("service should not be connected before Connect()")
		}
	})
}

func TestServiceLifecycle(t *testing.T) {
	ctx := context.Background()

	svc, err := NewService(
		WithStore(memory.New()),
		WithDirectory(directory.NewStatic(testUsers()...)),
	)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	t.Run("operations before connect", func(t *testing.T) {
		client := svc.Client("u-a")
		if _, err := client.Get(ctx, "some-id"); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
		if _, err := client.Send(ctx, SendRequest{
			RecipientEmails: []string{"b@x.com"},
			Subject:         "hi",
		}); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
	})

	t.Run("connect", func(t *testing.T) {
		if err := svc.Connect(ctx); err != nil {
			t.Fatalf("failed to connect: %v", err)
		}
		if !svc.IsConnected() {
			t.Error("service should report connected")
		}
	})

	t.Run("double connect", func(t *testing.T) {
		if err := svc.Connect(ctx); !errors.Is(err, ErrAlreadyConnected) {
			t.Errorf("expected ErrAlreadyConnected, got %v", err)
		}
	})

	t.Run("close", func(t *testing.T) {
		if err := svc.Close(ctx); err != nil {
			t.Fatalf("failed to close: %v", err)
		}
		if svc.IsConnected() {
			t.Error("service should report disconnected after close")
		}
		// Double close is a no-op.
		if err := svc.Close(ctx); err != nil {
			t.Errorf("second close should succeed, got %v", err)
		}
	})

	t.Run("operations after close", func(t *testing.T) {
		client := svc.Client("u-a")
		if _, err := client.Stats(ctx); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
	})
}

func TestInvalidUserID(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t, testUsers()...)

	invalid := []string{"", "user with space", "user:colon", "user/slash", "user*star"}
	for _, id := range invalid {
		client := svc.Client(id)
		if _, err := client.Get(ctx, "some-id"); !errors.Is(err, ErrInvalidUserID) {
			t.Errorf("user %q: expected ErrInvalidUserID, got %v", id, err)
		}
	}

	// Emails and UUIDs are valid user IDs.
	client := svc.Client("user.name@example.com")
	if _, err := client.Get(ctx, "missing"); errors.Is(err, ErrInvalidUserID) {
		t.Errorf("email-shaped user ID should be valid, got %v", err)
	}
}

func TestSend(t *testing.T) {
	ctx := context.Background()

	t.Run("fanout with partial failure", func(t *testing.T) {
		svc := setupTestService(t, testUsers()...)
		sender := svc.Client("u-a")

		// One duplicate and one unknown address in the list.
		result := mustSend(t, sender, "quarterly numbers", "see attached",
			"b@x.com", "c@x.com", "b@x.com", "ghost@x.com")

		if !result.Partial {
			t.Error("expected partial result")
		}
		if len(result.DeliveredTo) != 2 {
			t.Fatalf("expected 2 delivered, got %v", result.DeliveredTo)
		}
		if result.DeliveredTo[0] != "u-b" || result.DeliveredTo[1] != "u-c" {
			t.Errorf("delivery order not preserved: %v", result.DeliveredTo)
		}
		if len(result.FailedEmails) != 1 || result.FailedEmails[0] != "ghost@x.com" {
			t.Errorf("expected ghost@x.com to fail, got %v", result.FailedEmails)
		}
		if result.Message.GetRole() != RoleSender {
			t.Errorf("sender record role = %v, want RoleSender", result.Message.GetRole())
		}

		// Each recipient sees exactly one unread entry.
		for _, uid := range []string{"u-b", "u-c"} {
			list, err := svc.Client(uid).List(ctx, Received, ListOptions{})
			if err != nil {
				t.Fatalf("failed to list for %s: %v", uid, err)
			}
			if len(list.All()) != 1 {
				t.Fatalf("%s: expected 1 received message, got %d", uid, len(list.All()))
			}
			msg := list.All()[0]
			if msg.GetIsRead() {
				t.Errorf("%s: new message should be unread", uid)
			}
			if msg.GetRole() != RoleRecipient {
				t.Errorf("%s: role = %v, want RoleRecipient", uid, msg.GetRole())
			}
		}
	})

	t.Run("self send merges records", func(t *testing.T) {
		svc := setupTestService(t, testUsers()...)
		sender := svc.Client("u-a")

		result := mustSend(t, sender, "note to self", "remember this", "a@x.com")
		if len(result.DeliveredTo) != 1 || result.DeliveredTo[0] != "u-a" {
			t.Fatalf("expected delivery to u-a only, got %v", result.DeliveredTo)
		}
		if result.Message.GetRole() != RoleBoth {
			t.Errorf("self-send role = %v, want RoleBoth", result.Message.GetRole())
		}

		// The message appears once in the combined view, not twice.
		all, err := sender.List(ctx, All, ListOptions{})
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(all.All()) != 1 {
			t.Errorf("expected 1 entry in combined view, got %d", len(all.All()))
		}

		// And shows up under both sent and received.
		for _, f := range []ListFilter{Sent, Received} {
			list, err := sender.List(ctx, f, ListOptions{})
			if err != nil {
				t.Fatalf("failed to list %s: %v", f, err)
			}
			if len(list.All()) != 1 {
				t.Errorf("filter %s: expected 1 entry, got %d", f, len(list.All()))
			}
		}
	})

	t.Run("empty recipients", func(t *testing.T) {
		svc := setupTestService(t, testUsers()...)
		_, err := svc.Client("u-a").Send(ctx, SendRequest{
			Subject: "to nobody",
			Body:    "x",
		})
		if _, ok := IsNoValidRecipients(err); !ok {
			t.Errorf("expected NoValidRecipientsError, got %v", err)
		}
	})

	t.Run("all recipients fail rolls back", func(t *testing.T) {
		svc := setupTestService(t, testUsers()...)
		sender := svc.Client("u-a")

		_, err := sender.Send(ctx, SendRequest{
			RecipientEmails: []string{"ghost@x.com", "nobody@x.com"},
			Subject:         "into the void",
			Body:            "x",
		})
		nvr, ok := IsNoValidRecipients(err)
		if !ok {
			t.Fatalf("expected NoValidRecipientsError, got %v", err)
		}
		if len(nvr.FailedEmails) != 2 {
			t.Errorf("expected 2 failed emails, got %v", nvr.FailedEmails)
		}

		// The optimistically created message was rolled back.
		list, err := sender.List(ctx, All, ListOptions{})
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(list.All()) != 0 {
			t.Errorf("expected empty ledger after rollback, got %d entries", len(list.All()))
		}
	})

	t.Run("validation", func(t *testing.T) {
		svc := setupTestService(t, testUsers()...)
		sender := svc.Client("u-a")

		_, err := sender.Send(ctx, SendRequest{
			RecipientEmails: []string{"b@x.com"},
			Subject:         "   ",
			Body:            "x",
		})
		if !errors.Is(err, ErrEmptySubject) {
			t.Errorf("expected ErrEmptySubject, got %v", err)
		}

		long := make([]byte, DefaultMaxSubjectLength+1)
		for i := range long {
			long[i] = 'a'
		}
		_, err = sender.Send(ctx, SendRequest{
			RecipientEmails: []string{"b@x.com"},
			Subject:         string(long),
			Body:            "x",
		})
		if !errors.Is(err, ErrSubjectTooLong) {
			t.Errorf("expected ErrSubjectTooLong, got %v", err)
		}
	})

	t.Run("email matching is case insensitive", func(t *testing.T) {
		svc := setupTestService(t, testUsers()...)
		result := mustSend(t, svc.Client("u-a"), "hello", "x", "B@X.COM")
		if len(result.DeliveredTo) != 1 || result.DeliveredTo[0] != "u-b" {
			t.Errorf("expected delivery to u-b, got %v", result.DeliveredTo)
		}
	})
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t, testUsers()...)

	result := mustSend(t, svc.Client("u-a"), "hello", "body text", "b@x.com")
	id := result.Message.GetID()

	t.Run("sender view", func(t *testing.T) {
		msg, err := svc.Client("u-a").Get(ctx, id)
		if err != nil {
			t.Fatalf("failed to get: %v", err)
		}
		if msg.GetRole() != RoleSender {
			t.Errorf("role = %v, want RoleSender", msg.GetRole())
		}
		if msg.GetSubject() != "hello" || msg.GetBody() != "body text" {
			t.Errorf("unexpected content: %q / %q", msg.GetSubject(), msg.GetBody())
		}
	})

	t.Run("recipient view", func(t *testing.T) {
		msg, err := svc.Client("u-b").Get(ctx, id)
		if err != nil {
			t.Fatalf("failed to get: %v", err)
		}
		if msg.GetRole() != RoleRecipient {
			t.Errorf("role = %v, want RoleRecipient", msg.GetRole())
		}
		if msg.GetIsRead() {
			t.Error("message should be unread")
		}
	})

	t.Run("non participant", func(t *testing.T) {
		_, err := svc.Client("u-c").Get(ctx, id)
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected not found for non-participant, got %v", err)
		}
	})

	t.Run("empty id", func(t *testing.T) {
		_, err := svc.Client("u-a").Get(ctx, "")
		if !errors.Is(err, ErrInvalidID) {
			t.Errorf("expected ErrInvalidID, got %v", err)
		}
	})
}

func TestReadState(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t, testUsers()...)

	result := mustSend(t, svc.Client("u-a"), "read me", "x", "b@x.com")
	id := result.Message.GetID()
	reader := svc.Client("u-b")

	t.Run("mark read", func(t *testing.T) {
		if err := reader.MarkRead(ctx, id); err != nil {
			t.Fatalf("failed to mark read: %v", err)
		}
		msg, err := reader.Get(ctx, id)
		if err != nil {
			t.Fatalf("failed to get: %v", err)
		}
		if !msg.GetIsRead() {
			t.Error("message should be read")
		}
		if msg.GetReadAt() == nil {
			t.Error("read_at should be set")
		}
	})

	t.Run("mark read is idempotent", func(t *testing.T) {
		if err := reader.MarkRead(ctx, id); err != nil {
			t.Errorf("second mark read should succeed, got %v", err)
		}
	})

	t.Run("mark unread", func(t *testing.T) {
		if err := reader.MarkUnread(ctx, id); err != nil {
			t.Fatalf("failed to mark unread: %v", err)
		}
		msg, err := reader.Get(ctx, id)
		if err != nil {
			t.Fatalf("failed to get: %v", err)
		}
		if msg.GetIsRead() {
			t.Error("message should be unread again")
		}
	})

	t.Run("sender cannot mark read", func(t *testing.T) {
		err := svc.Client("u-a").MarkRead(ctx, id)
		if !errors.Is(err, ErrNotRecipient) {
			t.Errorf("expected ErrNotRecipient, got %v", err)
		}
		// The sender-only refinement still belongs to the not-found class.
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("ErrNotRecipient should match store.ErrNotFound, got %v", err)
		}
	})

	t.Run("self send sender can mark read", func(t *testing.T) {
		self := mustSend(t, svc.Client("u-c"), "todo", "x", "c@x.com")
		if err := svc.Client("u-c").MarkRead(ctx, self.Message.GetID()); err != nil {
			t.Errorf("RoleBoth holder should mark read, got %v", err)
		}
	})

	t.Run("unknown message", func(t *testing.T) {
		err := reader.MarkRead(ctx, "no-such-message")
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})
}

func TestMarkAllRead(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t, testUsers()...)
	sender := svc.Client("u-a")
	reader := svc.Client("u-b")

	ids := make([]string, 0, 3)
	for _, subject := range []string{"one", "two", "three"} {
		result := mustSend(t, sender, subject, "x", "b@x.com")
		ids = append(ids, result.Message.GetID())
	}

	// Pre-read one so only two remain unread.
	if err := reader.MarkRead(ctx, ids[0]); err != nil {
		t.Fatalf("failed to mark read: %v", err)
	}

	updated, err := reader.MarkAllRead(ctx)
	if err != nil {
		t.Fatalf("failed to mark all read: %v", err)
	}
	if updated != 2 {
		t.Errorf("expected 2 updated, got %d", updated)
	}

	unread, err := reader.List(ctx, ReceivedUnread, ListOptions{})
	if err != nil {
		t.Fatalf("failed to list unread: %v", err)
	}
	if len(unread.All()) != 0 {
		t.Errorf("expected no unread messages, got %d", len(unread.All()))
	}

	// Nothing left to update on a second pass.
	updated, err = reader.MarkAllRead(ctx)
	if err != nil {
		t.Fatalf("second mark all read failed: %v", err)
	}
	if updated != 0 {
		t.Errorf("expected 0 updated on second pass, got %d", updated)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("recipient delete keeps message for sender", func(t *testing.T) {
		svc := setupTestService(t, testUsers()...)
		result := mustSend(t, svc.Client("u-a"), "shared", "x", "b@x.com")
		id := result.Message.GetID()

		outcome, err := svc.Client("u-b").Delete(ctx, id)
		if err != nil {
			t.Fatalf("failed to delete: %v", err)
		}
		if outcome != store.RecordRemoved {
			t.Errorf("outcome = %v, want RecordRemoved", outcome)
		}

		// The recipient no longer sees it; the sender still does.
		if _, err := svc.Client("u-b").Get(ctx, id); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected not found for deleter, got %v", err)
		}
		if _, err := svc.Client("u-a").Get(ctx, id); err != nil {
			t.Errorf("sender should still see message, got %v", err)
		}
	})

	t.Run("last record cascades", func(t *testing.T) {
		svc := setupTestService(t, testUsers()...)
		result := mustSend(t, svc.Client("u-a"), "shared", "x", "b@x.com")
		id := result.Message.GetID()

		if _, err := svc.Client("u-b").Delete(ctx, id); err != nil {
			t.Fatalf("recipient delete failed: %v", err)
		}
		outcome, err := svc.Client("u-a").Delete(ctx, id)
		if err != nil {
			t.Fatalf("sender delete failed: %v", err)
		}
		if outcome != store.MessageFullyDeleted {
			t.Errorf("outcome = %v, want MessageFullyDeleted", outcome)
		}
	})

	t.Run("self send deletes in one step", func(t *testing.T) {
		svc := setupTestService(t, testUsers()...)
		result := mustSend(t, svc.Client("u-a"), "note", "x", "a@x.com")

		outcome, err := svc.Client("u-a").Delete(ctx, result.Message.GetID())
		if err != nil {
			t.Fatalf("failed to delete: %v", err)
		}
		if outcome != store.MessageFullyDeleted {
			t.Errorf("outcome = %v, want MessageFullyDeleted", outcome)
		}
	})

	t.Run("double delete", func(t *testing.T) {
		svc := setupTestService(t, testUsers()...)
		result := mustSend(t, svc.Client("u-a"), "gone", "x", "b@x.com")
		id := result.Message.GetID()

		if _, err := svc.Client("u-b").Delete(ctx, id); err != nil {
			t.Fatalf("first delete failed: %v", err)
		}
		_, err := svc.Client("u-b").Delete(ctx, id)
		if !errors.Is(err, ErrRecordNotFound) {
			t.Errorf("expected ErrRecordNotFound, got %v", err)
		}
	})
}

func TestList(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t, testUsers()...)
	a := svc.Client("u-a")
	b := svc.Client("u-b")

	// a sends 3 to b, b sends 1 to a. b reads one of a's.
	var received []string
	for _, subject := range []string{"first", "second", "third"} {
		result := mustSend(t, a, subject, "x", "b@x.com")
		received = append(received, result.Message.GetID())
	}
	mustSend(t, b, "reply", "x", "a@x.com")
	if err := b.MarkRead(ctx, received[0]); err != nil {
		t.Fatalf("failed to mark read: %v", err)
	}

	cases := []struct {
		filter ListFilter
		want   int
	}{
		{All, 4},
		{Sent, 1},
		{Received, 3},
		{ReceivedUnread, 2},
		{ReceivedRead, 1},
	}
	for _, tc := range cases {
		t.Run(tc.filter.String(), func(t *testing.T) {
			list, err := b.List(ctx, tc.filter, ListOptions{})
			if err != nil {
				t.Fatalf("failed to list: %v", err)
			}
			if len(list.All()) != tc.want {
				t.Errorf("got %d entries, want %d", len(list.All()), tc.want)
			}
			if list.Total() != int64(tc.want) {
				t.Errorf("total = %d, want %d", list.Total(), tc.want)
			}
		})
	}

	t.Run("viewer isolation", func(t *testing.T) {
		list, err := svc.Client("u-c").List(ctx, All, ListOptions{})
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(list.All()) != 0 {
			t.Errorf("uninvolved user should see nothing, got %d", len(list.All()))
		}
	})
}

func TestListPagination(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t, testUsers()...)
	b := svc.Client("u-b")

	for i := 0; i < 5; i++ {
		mustSend(t, svc.Client("u-a"), "page test", "x", "b@x.com")
		time.Sleep(time.Millisecond) // distinct created_at ordering
	}

	seen := make(map[string]bool)
	cursor := ""
	pages := 0
	for {
		list, err := b.List(ctx, Received, ListOptions{Limit: 2, StartAfter: cursor})
		if err != nil {
			t.Fatalf("failed to list page %d: %v", pages, err)
		}
		for _, msg := range list.All() {
			if seen[msg.GetID()] {
				t.Errorf("message %s returned twice", msg.GetID())
			}
			seen[msg.GetID()] = true
		}
		if list.Total() != 5 {
			t.Errorf("total = %d, want 5", list.Total())
		}
		pages++
		if !list.HasMore() {
			break
		}
		if list.NextCursor() == "" {
			t.Fatal("HasMore set but NextCursor empty")
		}
		cursor = list.NextCursor()
	}

	if len(seen) != 5 {
		t.Errorf("paged through %d distinct messages, want 5", len(seen))
	}
	if pages != 3 {
		t.Errorf("used %d pages, want 3", pages)
	}
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t, testUsers()...)
	a := svc.Client("u-a")

	mustSend(t, a, "Quarterly report", "numbers look solid", "b@x.com")
	mustSend(t, a, "lunch plans", "the usual place at noon", "b@x.com")
	mustSend(t, a, "misc", "quarterly review prep", "b@x.com")

	t.Run("matches subject and body", func(t *testing.T) {
		list, err := svc.Client("u-b").Search(ctx, "quarterly", ListOptions{})
		if err != nil {
			t.Fatalf("failed to search: %v", err)
		}
		if len(list.All()) != 2 {
			t.Errorf("got %d results, want 2", len(list.All()))
		}
	})

	t.Run("case insensitive", func(t *testing.T) {
		list, err := svc.Client("u-b").Search(ctx, "QUARTERLY", ListOptions{})
		if err != nil {
			t.Fatalf("failed to search: %v", err)
		}
		if len(list.All()) != 2 {
			t.Errorf("got %d results, want 2", len(list.All()))
		}
	})

	t.Run("scoped to viewer", func(t *testing.T) {
		list, err := svc.Client("u-c").Search(ctx, "quarterly", ListOptions{})
		if err != nil {
			t.Fatalf("failed to search: %v", err)
		}
		if len(list.All()) != 0 {
			t.Errorf("uninvolved user got %d results, want 0", len(list.All()))
		}
	})

	t.Run("no matches", func(t *testing.T) {
		list, err := svc.Client("u-b").Search(ctx, "zebra", ListOptions{})
		if err != nil {
			t.Fatalf("failed to search: %v", err)
		}
		if len(list.All()) != 0 {
			t.Errorf("got %d results, want 0", len(list.All()))
		}
	})
}

func TestStats(t *testing.T) {
	ctx := context.Background()

	// A nanosecond TTL forces every Stats call through the store, so the
	// assertions don't depend on incremental cache updates.
	svc, err := NewService(
		WithStore(memory.New()),
		WithDirectory(directory.NewStatic(testUsers()...)),
		WithStatsRefreshInterval(time.Nanosecond),
	)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	if err := svc.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer svc.Close(ctx)

	a := svc.Client("u-a")
	b := svc.Client("u-b")

	t.Run("empty ledger", func(t *testing.T) {
		stats, err := b.Stats(ctx)
		if err != nil {
			t.Fatalf("failed to get stats: %v", err)
		}
		if stats.TotalMessages != 0 || stats.Unread != 0 {
			t.Errorf("expected zero stats, got %+v", stats)
		}
	})

	mustSend(t, a, "one", "x", "b@x.com")
	mustSend(t, a, "two", "x", "b@x.com", "c@x.com")
	mustSend(t, b, "reply", "x", "a@x.com")

	t.Run("after activity", func(t *testing.T) {
		stats, err := b.Stats(ctx)
		if err != nil {
			t.Fatalf("failed to get stats: %v", err)
		}
		if stats.TotalMessages != 3 {
			t.Errorf("total = %d, want 3", stats.TotalMessages)
		}
		if stats.Sent != 1 {
			t.Errorf("sent = %d, want 1", stats.Sent)
		}
		if stats.Received != 2 {
			t.Errorf("received = %d, want 2", stats.Received)
		}
		if stats.Unread != 2 {
			t.Errorf("unread = %d, want 2", stats.Unread)
		}
	})

	t.Run("self send counts once", func(t *testing.T) {
		mustSend(t, svc.Client("u-c"), "note", "x", "c@x.com")
		stats, err := svc.Client("u-c").Stats(ctx)
		if err != nil {
			t.Fatalf("failed to get stats: %v", err)
		}
		// One "two" delivery plus the self-send.
		if stats.TotalMessages != 2 {
			t.Errorf("total = %d, want 2", stats.TotalMessages)
		}
		if stats.Sent != 1 || stats.Received != 2 {
			t.Errorf("sent = %d received = %d, want 1/2", stats.Sent, stats.Received)
		}
	})
}

func TestStream(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t, testUsers()...)
	b := svc.Client("u-b")

	const total = 7
	for i := 0; i < total; i++ {
		mustSend(t, svc.Client("u-a"), "stream test", "x", "b@x.com")
		time.Sleep(time.Millisecond)
	}

	t.Run("iterates in batches", func(t *testing.T) {
		it, err := b.Stream(ctx, Received, StreamOptions{BatchSize: 3})
		if err != nil {
			t.Fatalf("failed to create iterator: %v", err)
		}

		seen := make(map[string]bool)
		for {
			ok, err := it.Next(ctx)
			if err != nil {
				t.Fatalf("iterator error: %v", err)
			}
			if !ok {
				break
			}
			msg, err := it.Message()
			if err != nil {
				t.Fatalf("failed to get message: %v", err)
			}
			if seen[msg.GetID()] {
				t.Errorf("message %s yielded twice", msg.GetID())
			}
			seen[msg.GetID()] = true
		}
		if len(seen) != total {
			t.Errorf("iterated %d messages, want %d", len(seen), total)
		}
	})

	t.Run("message before next", func(t *testing.T) {
		it, err := b.Stream(ctx, Received, StreamOptions{})
		if err != nil {
			t.Fatalf("failed to create iterator: %v", err)
		}
		if _, err := it.Message(); !errors.Is(err, ErrIteratorOutOfBounds) {
			t.Errorf("expected ErrIteratorOutOfBounds, got %v", err)
		}
	})

	t.Run("stream search", func(t *testing.T) {
		it, err := b.StreamSearch(ctx, "stream", StreamOptions{BatchSize: 2})
		if err != nil {
			t.Fatalf("failed to create iterator: %v", err)
		}
		count := 0
		for {
			ok, err := it.Next(ctx)
			if err != nil {
				t.Fatalf("iterator error: %v", err)
			}
			if !ok {
				break
			}
			count++
		}
		if count != total {
			t.Errorf("search iterated %d, want %d", count, total)
		}
	})
}

func TestPurgeLedger(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t, testUsers()...)
	a := svc.Client("u-a")
	b := svc.Client("u-b")

	shared := mustSend(t, a, "shared", "x", "b@x.com")
	mustSend(t, b, "from b", "x", "a@x.com")
	mustSend(t, b, "b only", "x", "b@x.com")

	result, err := svc.PurgeLedger(ctx, "u-b")
	if err != nil {
		t.Fatalf("failed to purge: %v", err)
	}
	if result.DeletedRecords != 3 {
		t.Errorf("deleted records = %d, want 3", result.DeletedRecords)
	}
	// Only the self-send had no other record holders.
	if result.DeletedMessages != 1 {
		t.Errorf("deleted messages = %d, want 1", result.DeletedMessages)
	}
	if result.Interrupted {
		t.Error("purge should not report interruption")
	}

	// b's ledger is empty; a keeps both shared messages.
	list, err := b.List(ctx, All, ListOptions{})
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(list.All()) != 0 {
		t.Errorf("purged user still sees %d entries", len(list.All()))
	}
	if _, err := a.Get(ctx, shared.Message.GetID()); err != nil {
		t.Errorf("sender lost message after recipient purge: %v", err)
	}
	aList, err := a.List(ctx, All, ListOptions{})
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(aList.All()) != 2 {
		t.Errorf("a sees %d entries, want 2", len(aList.All()))
	}

	// Re-running is a no-op.
	result, err = svc.PurgeLedger(ctx, "u-b")
	if err != nil {
		t.Fatalf("second purge failed: %v", err)
	}
	if result.DeletedRecords != 0 {
		t.Errorf("second purge deleted %d records, want 0", result.DeletedRecords)
	}

	t.Run("invalid user", func(t *testing.T) {
		if _, err := svc.PurgeLedger(ctx, "bad user"); !errors.Is(err, ErrInvalidUserID) {
			t.Errorf("expected ErrInvalidUserID, got %v", err)
		}
	})
}

func TestBulkOperations(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t, testUsers()...)
	b := svc.Client("u-b")

	for i := 0; i < 3; i++ {
		mustSend(t, svc.Client("u-a"), "bulk", "x", "b@x.com")
	}

	unread, err := b.List(ctx, ReceivedUnread, ListOptions{})
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}

	result, err := unread.MarkRead(ctx)
	if err != nil {
		t.Fatalf("bulk mark read failed: %v", err)
	}
	if result.SuccessCount() != 3 || result.HasFailures() {
		t.Errorf("expected 3 successes, got %d successes %d failures",
			result.SuccessCount(), result.FailureCount())
	}

	after, err := b.List(ctx, ReceivedUnread, ListOptions{})
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(after.All()) != 0 {
		t.Errorf("expected no unread after bulk mark, got %d", len(after.All()))
	}
}
