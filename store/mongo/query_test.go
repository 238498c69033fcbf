package mongo

import (
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/kmehta/courier/store"
)

func TestSplitFilters(t *testing.T) {
	t.Run("record and message fields split", func(t *testing.T) {
		filters := []store.Filter{
			store.ViewerIs("u-1"),
			store.SubjectContains("hello"),
		}
		recordMatch, messageMatch, err := splitFilters(filters)
		if err != nil {
			t.Fatalf("splitFilters: %v", err)
		}
		if len(recordMatch) != 1 {
			t.Fatalf("recordMatch len = %d, want 1", len(recordMatch))
		}
		if recordMatch[0].Key != "user_id" {
			t.Errorf("record key = %q, want %q", recordMatch[0].Key, "user_id")
		}
		if len(messageMatch) != 1 {
			t.Fatalf("messageMatch len = %d, want 1", len(messageMatch))
		}
		if messageMatch[0].Key != "message.subject" {
			t.Errorf("message key = %q, want %q", messageMatch[0].Key, "message.subject")
		}
	})

	t.Run("contains escapes regex metacharacters", func(t *testing.T) {
		_, messageMatch, err := splitFilters([]store.Filter{
			store.SubjectContains("re: 50% (done?)"),
		})
		if err != nil {
			t.Fatalf("splitFilters: %v", err)
		}
		cond, ok := messageMatch[0].Value.(bson.M)
		if !ok {
			t.Fatalf("condition value = %T, want bson.M", messageMatch[0].Value)
		}
		pattern, _ := cond["$regex"].(string)
		if pattern == "re: 50% (done?)" {
			t.Error("regex metacharacters were not escaped")
		}
	})

	t.Run("contains requires a string value", func(t *testing.T) {
		f, err := store.EntryFilter("Subject").Contains(42)
		if err != nil {
			t.Fatalf("build filter: %v", err)
		}
		if _, _, err := splitFilters([]store.Filter{f}); !errors.Is(err, store.ErrFilterInvalid) {
			t.Errorf("err = %v, want store.ErrFilterInvalid", err)
		}
	})
}

func TestDocToEntry(t *testing.T) {
	now := time.Now().UTC()
	readAt := now.Add(time.Minute)
	doc := entryDoc{
		recordDoc: recordDoc{
			MessageID: "m-1",
			UserID:    "u-2",
			Role:      int32(store.RoleRecipient),
			IsRead:    true,
			ReadAt:    &readAt,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Message: messageDoc{
			ID:        "m-1",
			SenderID:  "u-1",
			Subject:   "status",
			Body:      "all green",
			CreatedAt: now,
		},
	}

	entry := docToEntry(&doc)
	if got := entry.Message.GetID(); got != "m-1" {
		t.Errorf("message ID = %q, want %q", got, "m-1")
	}
	if got := entry.Message.GetSenderID(); got != "u-1" {
		t.Errorf("sender ID = %q, want %q", got, "u-1")
	}
	if got := entry.Record.GetRole(); got != store.RoleRecipient {
		t.Errorf("role = %v, want RoleRecipient", got)
	}
	if !entry.Record.GetIsRead() {
		t.Error("record should be read")
	}
	if entry.Record.GetReadAt() == nil || !entry.Record.GetReadAt().Equal(readAt) {
		t.Errorf("readAt = %v, want %v", entry.Record.GetReadAt(), readAt)
	}
}
