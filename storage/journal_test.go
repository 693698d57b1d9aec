package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/domain"
)

type fakeQueue struct {
	messages []string
	err      error
}

func (f *fakeQueue) EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	if f.err != nil {
		return azqueue.EnqueueMessagesResponse{}, f.err
	}
	f.messages = append(f.messages, content)
	return azqueue.EnqueueMessagesResponse{}, nil
}

func TestJournalRecordsSuccessfulWrites(t *testing.T) {
	prev := timeNow
	timeNow = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	t.Cleanup(func() { timeNow = prev })

	queue := &fakeQueue{}
	backend := &stubBackend{
		updateTaskFn: func(context.Context, string, string, domain.TaskFields, []domain.ActivityEntry) error { return nil },
		deleteTaskFn: func(context.Context, string, string) error { return errors.New("boom") },
	}
	j := newJournal(backend, queue, nil)
	change := domain.ActivityEntry{Type: domain.ActivityTitleChanged, Message: "Title changed"}

	if err := j.UpdateTask(context.Background(), "u1", "t1", domain.TaskFields{Title: "x"}, change); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := j.DeleteTask(context.Background(), "u1", "t1"); err == nil {
		t.Fatalf("expected delete error to surface")
	}
	if len(queue.messages) != 1 {
		t.Fatalf("expected one journal message, got %d", len(queue.messages))
	}

	var entry JournalEntry
	if err := sonic.UnmarshalString(queue.messages[0], &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry.UserID != "u1" || entry.TaskID != "t1" || entry.Kind != "edit" {
		t.Fatalf("unexpected entry: %#v", entry)
	}
	if len(entry.Activity) != 1 || entry.Activity[0].Type != domain.ActivityTitleChanged {
		t.Fatalf("unexpected activity: %#v", entry.Activity)
	}
	if !entry.Timestamp.Equal(timeNow()) {
		t.Fatalf("unexpected timestamp: %v", entry.Timestamp)
	}
}

func TestJournalEnqueueFailureDoesNotFailWrite(t *testing.T) {
	logger, hook := test.NewNullLogger()
	queue := &fakeQueue{err: errors.New("queue down")}
	j := newJournal(&stubBackend{
		updateStatusFn: func(context.Context, string, string, domain.Status) error { return nil },
	}, queue, logger)

	if err := j.UpdateTaskStatus(context.Background(), "u1", "t1", domain.StatusCompleted); err != nil {
		t.Fatalf("expected write to succeed, got %v", err)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != log.WarnLevel || entry.Data["kind"] != "status" {
		t.Fatalf("expected warn log for enqueue failure, got %#v", entry)
	}
}
