package usecase

import (
	"context"
	"fmt"

	"RegimeDuel/internal/domain/models"
	drepo "RegimeDuel/internal/domain/repository"
	"RegimeDuel/pkg/queue"
)

// JournalMessageType is the queue message type for closed trades.
const JournalMessageType = "trade.closed"

// JournalJob writes queued closed trades into the trade journal.
type JournalJob struct {
	journal drepo.TradeJournal
	metrics drepo.Metrics
}

func NewJournalJob(journal drepo.TradeJournal, metrics drepo.Metrics) *JournalJob {
	return &JournalJob{journal: journal, metrics: metrics}
}

func (j *JournalJob) Name() string { return "trade_journal" }
func (j *JournalJob) Type() string { return JournalMessageType }

func (j *JournalJob) Handle(ctx context.Context, payload interface{}) error {
	t, err := queue.ParsePayload[models.ClosedTrade](payload)
	if err != nil {
		j.metrics.RecordError("journal_payload")
		return fmt.Errorf("journal job: %w", err)
	}
	if err := j.journal.Record(ctx, *t); err != nil {
		j.metrics.RecordError("journal_insert")
		return fmt.Errorf("journal job %s: %w", t.Handle, err)
	}
	return nil
}

// Enqueue runs the job inline. It lets the recorder journal trades directly
// when no Redis queue is configured.
func (j *JournalJob) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	if msgType != JournalMessageType {
		return fmt.Errorf("journal job: unexpected message type %q", msgType)
	}
	return j.Handle(ctx, payload)
}

var (
	_ queue.Job    = (*JournalJob)(nil)
	_ JournalQueue = (*JournalJob)(nil)
)
