package service

import (
	"context"
	"time"

	"github.com/neriyabudraham/flowbotomat-sub003/internal/constants"
	"github.com/neriyabudraham/flowbotomat-sub003/internal/models"
	"github.com/neriyabudraham/flowbotomat-sub003/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

// NotifyStore is the slice of the database the notifier needs.
type NotifyStore interface {
	GetConversationState(ctx context.Context, phone string) (*models.ConversationState, error)
	SaveConversationState(ctx context.Context, cs *models.ConversationState) error
}

// Notifier tells the scheduling contact what happened to their job once
// the processor dispatched it. Only near-term schedules from the chat
// surface are worth interrupting the contact for: web jobs and schedules
// placed further out than the window stay silent.
type Notifier struct {
	store   NotifyStore
	gateway types.Client
	session string
	locks   *phoneLocks
	window  time.Duration
	logger  *logrus.Logger
}

func NewNotifier(store NotifyStore, gateway types.Client, botSession string, locks *phoneLocks, logger *logrus.Logger) *Notifier {
	return &Notifier{
		store:   store,
		gateway: gateway,
		session: botSession,
		locks:   locks,
		window:  constants.NotifyWindowHours * time.Hour,
		logger:  logger,
	}
}

func (n *Notifier) shouldNotify(item *models.QueueItem) bool {
	if item.Source != models.SourceWhatsApp || item.SourcePhone == "" {
		return false
	}
	if item.ScheduledFor == nil {
		// Immediate sends confirm inline during the conversation.
		return false
	}
	return item.ScheduledFor.Sub(item.CreatedAt) <= n.window
}

// NotifySuccess confirms the post and re-opens the after-send menu so the
// contact can act on the now-live status.
func (n *Notifier) NotifySuccess(ctx context.Context, item *models.QueueItem, conn *models.Connection) {
	if !n.shouldNotify(item) {
		return
	}
	log := n.logger.WithFields(logrus.Fields{
		"queue_item_id": item.ID,
		"phone":         item.SourcePhone,
	})

	// The sends and the state rewrite are one critical section: an inbound
	// message in between would see prompts that don't match its state.
	unlock := n.locks.Lock(item.SourcePhone)
	defer unlock()

	if _, err := n.gateway.SendText(ctx, n.session, item.SourcePhone, sentConfirmation(conn)); err != nil {
		log.WithError(err).Warn("Failed to send success notification")
		return
	}
	if _, err := n.gateway.SendList(ctx, n.session, item.SourcePhone,
		"What would you like to do next?", "Options", afterSendSections()); err != nil {
		log.WithError(err).Warn("Failed to send after-send menu")
		return
	}

	cs, err := n.store.GetConversationState(ctx, item.SourcePhone)
	if err != nil {
		log.WithError(err).Warn("Failed to load conversation for notification")
		return
	}
	if cs == nil {
		cs = &models.ConversationState{Phone: item.SourcePhone, State: models.StateIdle}
	}
	cs.State = models.StateAfterSendMenu
	cs.Data = &models.StateData{AfterSend: &models.AfterSendData{
		ConnectionID: item.ConnectionID,
		QueueItemID:  item.ID,
	}}
	if err := n.store.SaveConversationState(ctx, cs); err != nil {
		log.WithError(err).Warn("Failed to move conversation to after-send menu")
	}
}

// NotifyFailure tells the contact the post failed. The conversation state
// is left alone.
func (n *Notifier) NotifyFailure(ctx context.Context, item *models.QueueItem, errMsg string) {
	if !n.shouldNotify(item) {
		return
	}
	if _, err := n.gateway.SendText(ctx, n.session, item.SourcePhone, failureNotice(errMsg)); err != nil {
		n.logger.WithError(err).WithField("queue_item_id", item.ID).
			Warn("Failed to send failure notification")
	}
}
