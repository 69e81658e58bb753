package service

import (
	"context"
	"time"

	"github.com/neriyabudraham/flowbotomat-sub003/internal/auth"
	"github.com/neriyabudraham/flowbotomat-sub003/internal/models"
	"github.com/neriyabudraham/flowbotomat-sub003/internal/schedule"
	"github.com/neriyabudraham/flowbotomat-sub003/internal/tracing"
	"github.com/neriyabudraham/flowbotomat-sub003/pkg/whatsapp/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ConversationStore is the slice of the database the state machine needs.
type ConversationStore interface {
	GetConversationState(ctx context.Context, phone string) (*models.ConversationState, error)
	SaveConversationState(ctx context.Context, cs *models.ConversationState) error
	GetConnection(ctx context.Context, id int64) (*models.Connection, error)
	GetQueueItem(ctx context.Context, id int64) (*models.QueueItem, error)
	ListPendingByConnection(ctx context.Context, connectionID int64) ([]models.QueueItem, error)
	ListRecentSentByConnection(ctx context.Context, connectionID int64, since time.Time) ([]models.QueueItem, error)
	CancelQueueItem(ctx context.Context, id int64) (bool, error)
	SetScheduledFor(ctx context.Context, id int64, at *time.Time) error
	GetSentStatusByQueueItem(ctx context.Context, queueItemID int64) (*models.SentStatus, error)
	MarkSentStatusDeleted(ctx context.Context, id int64) error
	ListStatusViews(ctx context.Context, sentStatusID int64) ([]models.StatusView, error)
	ListStatusReactions(ctx context.Context, sentStatusID int64) ([]models.StatusReaction, error)
}

// Machine drives the per-contact guided conversation. All transitions for
// one phone run under that phone's mutex, and the resulting state is
// persisted exactly once per inbound event.
type Machine struct {
	store    ConversationStore
	gateway  types.Client
	resolver *auth.Resolver
	calc     *schedule.Calculator
	queue    *Queue
	session  string
	locks    *phoneLocks
	logger   *logrus.Logger
	now      func() time.Time
}

func NewMachine(
	store ConversationStore,
	gateway types.Client,
	resolver *auth.Resolver,
	calc *schedule.Calculator,
	queue *Queue,
	botSession string,
	logger *logrus.Logger,
) *Machine {
	return &Machine{
		store:    store,
		gateway:  gateway,
		resolver: resolver,
		calc:     calc,
		queue:    queue,
		session:  botSession,
		locks:    newPhoneLocks(),
		logger:   logger,
		now:      time.Now,
	}
}

// Locks exposes the per-phone locker so the processor's notifier can
// serialize its state rewrites against inbound handling.
func (m *Machine) Locks() *phoneLocks {
	return m.locks
}

// HandleInbound processes one message from a contact: global rules first
// (blocked window, commands, restart guard), then the current state's
// handler. State is saved once at the end regardless of which path ran.
func (m *Machine) HandleInbound(ctx context.Context, phone string, msg models.InboundMessage) error {
	unlock := m.locks.Lock(phone)
	defer unlock()

	ctx, span := tracing.StartSpan(ctx, "conversation.handle_inbound")
	defer span.End()

	now := m.now()
	cs, err := m.store.GetConversationState(ctx, phone)
	if err != nil {
		return err
	}
	if cs == nil {
		cs = &models.ConversationState{Phone: phone, State: models.StateIdle}
	}

	log := m.logger.WithFields(logrus.Fields{
		"event_id": uuid.NewString(),
		"state":    cs.State,
		"kind":     msg.Kind,
	})

	if cs.Blocked(now) {
		log.Debug("Dropping message from blocked contact")
		return nil
	}
	cs.LastMessageAt = now

	if msg.ID != "" {
		if err := m.gateway.MarkRead(ctx, m.session, phone, msg.ID); err != nil {
			log.WithError(err).Debug("Failed to mark message read")
		}
	}

	handled := false
	if msg.Kind == models.KindText {
		if cmd, ok := parseCommand(msg.Text); ok {
			handled = true
			err = m.handleCommand(ctx, log, cs, cmd)
		}
	}

	if !handled {
		// Restart guard: content that does not fit the waiting state
		// abandons the flow and is re-read as the start of a new one.
		if cs.State != models.StateIdle && !kindFitsState(cs.State, msg.Kind) {
			log.Info("Restarting conversation on unexpected content")
			m.resetToIdle(cs)
		}
		err = m.dispatch(ctx, log, cs, msg)
	}

	if err != nil {
		tracing.RecordError(ctx, err)
		log.WithError(err).Error("Failed to handle inbound message")
	}

	if saveErr := m.store.SaveConversationState(ctx, cs); saveErr != nil {
		log.WithError(saveErr).Error("Failed to persist conversation state")
		if err == nil {
			err = saveErr
		}
	}
	return err
}

func (m *Machine) dispatch(ctx context.Context, log *logrus.Entry, cs *models.ConversationState, msg models.InboundMessage) error {
	switch cs.State {
	case models.StateIdle:
		return m.handleIdle(ctx, log, cs, msg)
	case models.StateSelectAccount:
		return m.handleSelectAccount(ctx, log, cs, msg)
	case models.StateSelectColor:
		return m.handleSelectColor(ctx, log, cs, msg)
	case models.StateSelectAction:
		return m.handleSelectAction(ctx, log, cs, msg)
	case models.StateSelectScheduleDay:
		return m.handleScheduleDay(ctx, log, cs, msg)
	case models.StateSelectScheduleTime:
		return m.handleScheduleTime(ctx, log, cs, msg)
	case models.StateViewScheduled:
		return m.handleViewScheduled(ctx, log, cs, msg)
	case models.StateViewStatusActions:
		return m.handleViewStatusActions(ctx, log, cs, msg)
	case models.StateAfterSendMenu:
		return m.handleAfterSendMenu(ctx, log, cs, msg)
	default:
		m.resetToIdle(cs)
		return m.handleIdle(ctx, log, cs, msg)
	}
}

// kindFitsState reports whether a message kind is a plausible answer to
// the prompt the state is waiting on.
func kindFitsState(state models.State, kind models.MessageKind) bool {
	switch state {
	case models.StateSelectAccount, models.StateSelectColor,
		models.StateSelectScheduleDay, models.StateViewScheduled,
		models.StateAfterSendMenu:
		return kind == models.KindListReply
	case models.StateSelectAction, models.StateViewStatusActions:
		return kind == models.KindButtonReply
	case models.StateSelectScheduleTime:
		return kind == models.KindText
	default:
		return true
	}
}

func (m *Machine) resetToIdle(cs *models.ConversationState) {
	cs.State = models.StateIdle
	cs.Data = nil
	cs.Draft = nil
	cs.ConnectionID = nil
}

func (m *Machine) sendText(ctx context.Context, phone, text string) error {
	_, err := m.gateway.SendText(ctx, m.session, phone, text)
	return err
}

func (m *Machine) sendButtons(ctx context.Context, phone, body string, buttons []types.Button) error {
	_, err := m.gateway.SendButtons(ctx, m.session, phone, body, buttons)
	return err
}

func (m *Machine) sendList(ctx context.Context, phone, body, buttonText string, sections []types.ListSection) error {
	_, err := m.gateway.SendList(ctx, m.session, phone, body, buttonText, sections)
	return err
}
