package service

import (
	"context"
	"sync"
	"time"

	"github.com/neriyabudraham/flowbotomat-sub003/internal/auth"
	"github.com/neriyabudraham/flowbotomat-sub003/internal/constants"
	"github.com/neriyabudraham/flowbotomat-sub003/internal/models"
	"github.com/neriyabudraham/flowbotomat-sub003/internal/tracing"
	"github.com/neriyabudraham/flowbotomat-sub003/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

// ProcessorStore is the slice of the database the queue processor needs.
type ProcessorStore interface {
	LockStore
	GetConnection(ctx context.Context, id int64) (*models.Connection, error)
	ListDueCandidates(ctx context.Context, now time.Time) ([]models.QueueItem, error)
	MarkProcessing(ctx context.Context, id int64) error
	MarkSent(ctx context.Context, id int64, sentAt time.Time) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
	SetQueueItemMessageID(ctx context.Context, id int64, messageID string) error
	InsertSentStatus(ctx context.Context, ss *models.SentStatus) error
}

// ProcessorConfig tunes the dispatch loop.
type ProcessorConfig struct {
	TickInterval    time.Duration
	SendCooldown    time.Duration
	LockStaleAfter  time.Duration
	DispatchTimeout time.Duration
	Quarantine      time.Duration
}

// Processor drains the status queue one job per cool-down window. Every
// instance in every process runs the same loop; the database lock row
// decides who actually dispatches.
type Processor struct {
	store      ProcessorStore
	gateway    types.Client
	notifier   *Notifier
	lease      *queueLease
	gate       *sendGate
	quarantine time.Duration
	tick       time.Duration
	timeout    time.Duration
	logger     *logrus.Logger
	now        func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewProcessor(store ProcessorStore, gateway types.Client, notifier *Notifier, cfg ProcessorConfig, logger *logrus.Logger) *Processor {
	return &Processor{
		store:      store,
		gateway:    gateway,
		notifier:   notifier,
		lease:      newQueueLease(store, cfg.LockStaleAfter, logger),
		gate:       newSendGate(cfg.SendCooldown),
		quarantine: cfg.Quarantine,
		tick:       cfg.TickInterval,
		timeout:    cfg.DispatchTimeout,
		logger:     logger,
		now:        time.Now,
	}
}

// Start launches the tick loop. Safe to call once; subsequent calls are
// no-ops until Stop.
func (p *Processor) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})

	p.wg.Add(1)
	go p.loop(ctx, p.stopCh)

	p.logger.WithFields(logrus.Fields{
		"tick":     p.tick,
		"cooldown": p.gate.cooldown,
	}).Info("Queue processor started")
}

// Stop halts the loop and waits for an in-flight tick to finish.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("Queue processor stopped")
}

func (p *Processor) loop(ctx context.Context, stopCh chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if err := p.processTick(ctx); err != nil {
				p.logger.WithError(err).Error("Queue tick failed")
			}
		}
	}
}

// processTick runs one pass: skip if another worker holds the lock or
// the cool-down hasn't elapsed, otherwise claim the best due job and
// dispatch it.
func (p *Processor) processTick(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "queue.tick")
	defer span.End()

	held, lock, err := p.lease.Current(ctx)
	if err != nil {
		return err
	}
	if held {
		return nil
	}

	now := p.now()
	if !p.gate.Allow(lock.LastSentAt, now) {
		p.logger.WithField("next_allowed", p.gate.NextAllowed(lock.LastSentAt)).
			Debug("Cool-down still active, skipping tick")
		return nil
	}

	item, conn, err := p.selectDispatchable(ctx, now)
	if err != nil {
		return err
	}
	if item == nil {
		return nil
	}

	acquired, err := p.lease.Acquire(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		// Lost the race to a concurrent worker.
		return nil
	}

	if err := p.store.MarkProcessing(ctx, item.ID); err != nil {
		// Claimed away or cancelled between selection and here.
		p.logger.WithError(err).WithField("queue_item_id", item.ID).
			Debug("Job left the pending set before claim")
		return p.lease.Release(ctx, nil, nil)
	}

	p.dispatch(ctx, item, conn)
	return nil
}

// selectDispatchable returns the first due job whose account can post
// right now. Per-account eligibility is decided here with the same
// predicate the conversation validator uses.
func (p *Processor) selectDispatchable(ctx context.Context, now time.Time) (*models.QueueItem, *models.Connection, error) {
	candidates, err := p.store.ListDueCandidates(ctx, now)
	if err != nil {
		return nil, nil, err
	}

	conns := make(map[int64]*models.Connection, 4)
	for i := range candidates {
		item := &candidates[i]
		conn, ok := conns[item.ConnectionID]
		if !ok {
			conn, err = p.store.GetConnection(ctx, item.ConnectionID)
			if err != nil {
				return nil, nil, err
			}
			conns[item.ConnectionID] = conn
		}
		if conn == nil {
			continue
		}
		if auth.CanPost(conn, now, p.quarantine) {
			return item, conn, nil
		}
	}
	return nil, nil, nil
}

// dispatch posts one claimed job. The lock is released on every path; the
// deferred release only fires if an earlier return slipped through,
// leaving the cool-down stamp untouched.
func (p *Processor) dispatch(ctx context.Context, item *models.QueueItem, conn *models.Connection) {
	released := false
	defer func() {
		if !released {
			if err := p.lease.Release(ctx, nil, nil); err != nil {
				p.logger.WithError(err).Error("Best-effort lock release failed")
			}
		}
	}()

	log := p.logger.WithFields(logrus.Fields{
		"queue_item_id": item.ID,
		"connection_id": conn.ID,
		"status_type":   item.StatusType,
	})

	dctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if item.MessageID == "" {
		id, err := p.gateway.RequestMessageID(dctx, conn.SessionName)
		if err != nil {
			p.fail(ctx, log, item, "failed to obtain message id: "+err.Error())
			released = true
			return
		}
		if err := p.store.SetQueueItemMessageID(ctx, item.ID, id); err != nil {
			p.fail(ctx, log, item, "failed to persist message id: "+err.Error())
			released = true
			return
		}
		item.MessageID = id
	}

	resp, err := p.gateway.PostStatus(dctx, conn.SessionName, toStatusPost(item))
	if err != nil {
		p.fail(ctx, log, item, err.Error())
		released = true
		return
	}
	if resp != nil && resp.MessageID != "" && resp.MessageID != item.MessageID {
		item.MessageID = resp.MessageID
		if err := p.store.SetQueueItemMessageID(ctx, item.ID, resp.MessageID); err != nil {
			log.WithError(err).Warn("Failed to persist gateway message id")
		}
	}

	now := p.now()
	if err := p.store.MarkSent(ctx, item.ID, now); err != nil {
		log.WithError(err).Error("Failed to mark job sent")
	}
	ss := &models.SentStatus{
		QueueItemID:  item.ID,
		ConnectionID: conn.ID,
		MessageID:    item.MessageID,
		PostedAt:     now,
		ExpiresAt:    now.Add(constants.StatusExpiryHours * time.Hour),
	}
	if err := p.store.InsertSentStatus(ctx, ss); err != nil {
		log.WithError(err).Error("Failed to record sent status")
	}

	if err := p.lease.Release(ctx, &now, &conn.ID); err != nil {
		log.WithError(err).Error("Failed to release queue lock")
	}
	released = true

	log.WithField("message_id", item.MessageID).Info("Status posted")
	p.notifier.NotifySuccess(ctx, item, conn)
}

func (p *Processor) fail(ctx context.Context, log *logrus.Entry, item *models.QueueItem, errMsg string) {
	tracing.RecordError(ctx, &dispatchError{msg: errMsg})
	log.WithField("error_message", errMsg).Warn("Status dispatch failed")

	if err := p.store.MarkFailed(ctx, item.ID, errMsg); err != nil {
		log.WithError(err).Error("Failed to mark job failed")
	}
	if err := p.lease.Release(ctx, nil, nil); err != nil {
		log.WithError(err).Error("Failed to release queue lock")
	}
	p.notifier.NotifyFailure(ctx, item, errMsg)
}

type dispatchError struct{ msg string }

func (e *dispatchError) Error() string { return e.msg }

func toStatusPost(item *models.QueueItem) types.StatusPost {
	c := item.Content
	return types.StatusPost{
		Type:            string(c.Type),
		MessageID:       item.MessageID,
		Text:            c.Text,
		BackgroundColor: c.BackgroundColor,
		Font:            c.Font,
		LinkPreview:     c.LinkPreview,
		MediaURL:        c.MediaURL,
		Caption:         c.Caption,
		PTT:             c.PTT,
	}
}
