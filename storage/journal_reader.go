package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
)

type queueReader interface {
	DequeueMessage(ctx context.Context, o *azqueue.DequeueMessageOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

// JournalReader consumes the entries a Journal wrote.
type JournalReader struct {
	queue  queueReader
	logger *log.Logger
	idle   time.Duration
}

func NewJournalReader(queue *azqueue.QueueClient, logger *log.Logger) *JournalReader {
	return newJournalReader(queue, logger)
}

func newJournalReader(queue queueReader, logger *log.Logger) *JournalReader {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &JournalReader{queue: queue, logger: logger, idle: time.Second}
}

// Run hands every entry to handle until ctx is done. A message is deleted once
// handle accepts it or when it cannot be decoded; a message handle rejects
// becomes visible again after the queue's visibility timeout.
func (r *JournalReader) Run(ctx context.Context, handle func(context.Context, JournalEntry) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		resp, err := r.queue.DequeueMessage(ctx, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.WithError(err).Warn("receive journal entry")
			r.wait(ctx)
			continue
		}
		if len(resp.Messages) == 0 {
			r.wait(ctx)
			continue
		}
		for _, msg := range resp.Messages {
			r.process(ctx, msg, handle)
		}
	}
}

func (r *JournalReader) process(ctx context.Context, msg *azqueue.DequeuedMessage, handle func(context.Context, JournalEntry) error) {
	if msg == nil || msg.MessageID == nil || msg.PopReceipt == nil {
		return
	}
	var entry JournalEntry
	text := ""
	if msg.MessageText != nil {
		text = *msg.MessageText
	}
	if err := sonic.UnmarshalString(text, &entry); err != nil {
		r.logger.WithError(err).WithField("message_id", *msg.MessageID).Warn("drop undecodable journal entry")
	} else if err := handle(ctx, entry); err != nil {
		r.logger.WithError(err).WithFields(log.Fields{"task_id": entry.TaskID, "kind": entry.Kind}).Warn("journal entry not handled")
		return
	}
	if _, err := r.queue.DeleteMessage(ctx, *msg.MessageID, *msg.PopReceipt, nil); err != nil {
		r.logger.WithError(err).WithField("message_id", *msg.MessageID).Warn("delete journal entry")
	}
}

func (r *JournalReader) wait(ctx context.Context) {
	t := time.NewTimer(r.idle)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
