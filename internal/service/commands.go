package service

import (
	"context"
	"strings"
	"time"

	"github.com/neriyabudraham/flowbotomat-sub003/internal/constants"
	"github.com/neriyabudraham/flowbotomat-sub003/internal/models"

	"github.com/sirupsen/logrus"
)

type command int

const (
	cmdMenu command = iota
	cmdStatuses
	cmdCancel
)

// parseCommand recognizes the fixed command keywords in either language.
// Commands win over state handling no matter where the conversation is.
func parseCommand(text string) (command, bool) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "menu", "תפריט":
		return cmdMenu, true
	case "statuses", "סטטוסים":
		return cmdStatuses, true
	case "cancel", "ביטול":
		return cmdCancel, true
	default:
		return 0, false
	}
}

func (m *Machine) handleCommand(ctx context.Context, log *logrus.Entry, cs *models.ConversationState, cmd command) error {
	switch cmd {
	case cmdMenu:
		// Informational only, the conversation stays where it was.
		return m.sendText(ctx, cs.Phone, msgMenuHelp)

	case cmdCancel:
		m.resetToIdle(cs)
		return m.sendText(ctx, cs.Phone, msgCancelled)

	case cmdStatuses:
		conns, err := m.resolver.Resolve(ctx, cs.Phone)
		if err != nil {
			return err
		}
		switch len(conns) {
		case 0:
			return m.sendText(ctx, cs.Phone, msgNotAuthorized)
		case 1:
			return m.showScheduled(ctx, cs, conns[0].ID)
		default:
			ids := make([]int64, 0, len(conns))
			for _, c := range conns {
				ids = append(ids, c.ID)
			}
			cs.State = models.StateSelectAccount
			cs.Data = &models.StateData{SelectAccount: &models.SelectAccountData{
				ConnectionIDs: ids,
				Purpose:       models.PurposeViewScheduled,
			}}
			return m.sendList(ctx, cs.Phone, msgChooseAccount, "Accounts", accountListSections(conns))
		}
	}

	log.WithField("command", cmd).Warn("Unhandled command")
	return nil
}

// showScheduled lists the connection's pending jobs plus statuses still
// live on the network, and moves the contact into the view_scheduled
// state, or back to idle when there is nothing to show.
func (m *Machine) showScheduled(ctx context.Context, cs *models.ConversationState, connectionID int64) error {
	pending, err := m.store.ListPendingByConnection(ctx, connectionID)
	if err != nil {
		return err
	}
	since := m.now().Add(-time.Duration(constants.StatusExpiryHours) * time.Hour)
	sent, err := m.store.ListRecentSentByConnection(ctx, connectionID, since)
	if err != nil {
		return err
	}
	if len(pending) == 0 && len(sent) == 0 {
		m.resetToIdle(cs)
		return m.sendText(ctx, cs.Phone, msgNothingPending)
	}

	cs.State = models.StateViewScheduled
	cs.Data = &models.StateData{ViewScheduled: &models.ViewScheduledData{ConnectionID: connectionID}}
	return m.sendList(ctx, cs.Phone, "Tap a status to manage it:", "Statuses",
		statusListSections(pending, sent, m.calc.Location()))
}
