package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/neriyabudraham/flowbotomat-sub003/internal/content"
	"github.com/neriyabudraham/flowbotomat-sub003/internal/models"
	"github.com/neriyabudraham/flowbotomat-sub003/internal/schedule"

	"github.com/sirupsen/logrus"
)

// handleIdle starts a new flow from fresh content. Replies and other
// non-content kinds arriving here are stale prompts and get a short
// rejection.
func (m *Machine) handleIdle(ctx context.Context, log *logrus.Entry, cs *models.ConversationState, msg models.InboundMessage) error {
	if !msg.Kind.Content() {
		return m.sendText(ctx, cs.Phone, msgUnsupported)
	}

	conns, err := m.resolver.Resolve(ctx, cs.Phone)
	if err != nil {
		return err
	}
	if len(conns) == 0 {
		// Tell them once, then go quiet until authorization changes.
		if cs.NotifiedNotAuthorized {
			log.Debug("Ignoring content from unauthorized contact")
			return nil
		}
		cs.NotifiedNotAuthorized = true
		return m.sendText(ctx, cs.Phone, msgNotAuthorized)
	}
	cs.NotifiedNotAuthorized = false

	draft, err := m.draftFromMessage(ctx, msg)
	if err != nil {
		log.WithError(err).Warn("Failed to prepare draft media")
		return m.sendText(ctx, cs.Phone, "I couldn't fetch that media. Please send it again.")
	}
	if draft == nil {
		return m.sendText(ctx, cs.Phone, msgUnsupported)
	}
	cs.Draft = draft

	if len(conns) > 1 {
		ids := make([]int64, 0, len(conns))
		for _, c := range conns {
			ids = append(ids, c.ID)
		}
		cs.State = models.StateSelectAccount
		cs.Data = &models.StateData{SelectAccount: &models.SelectAccountData{
			ConnectionIDs: ids,
			Purpose:       models.PurposeNewStatus,
		}}
		return m.sendList(ctx, cs.Phone, msgChooseAccount, "Accounts", accountListSections(conns))
	}

	return m.bindConnection(ctx, cs, &conns[0])
}

// draftFromMessage turns inbound content into a draft, re-hosting media
// so the queue item carries a stable URL instead of a gateway media id.
func (m *Machine) draftFromMessage(ctx context.Context, msg models.InboundMessage) (*models.StatusDraft, error) {
	switch msg.Kind {
	case models.KindText:
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			return nil, nil
		}
		return &models.StatusDraft{Kind: models.StatusTypeText, Text: text}, nil

	case models.KindImage, models.KindVideo, models.KindVoice:
		url, err := m.gateway.RehostMedia(ctx, m.session, msg.MediaID)
		if err != nil {
			return nil, err
		}
		kind := models.StatusTypeImage
		switch msg.Kind {
		case models.KindVideo:
			kind = models.StatusTypeVideo
		case models.KindVoice:
			kind = models.StatusTypeVoice
		}
		return &models.StatusDraft{Kind: kind, Text: msg.Caption, MediaURL: url}, nil

	default:
		return nil, nil
	}
}

// bindConnection validates the chosen account and advances to color
// selection or straight to the action prompt, depending on content kind
// and palette size.
func (m *Machine) bindConnection(ctx context.Context, cs *models.ConversationState, conn *models.Connection) error {
	elig := m.resolver.Validate(conn, m.now())
	if !elig.OK {
		m.resetToIdle(cs)
		return m.sendText(ctx, cs.Phone, elig.Reason)
	}
	cs.ConnectionID = &conn.ID

	// Images and videos carry their own background; color selection only
	// applies to text and voice statuses.
	if cs.Draft != nil && (cs.Draft.Kind == models.StatusTypeImage || cs.Draft.Kind == models.StatusTypeVideo) {
		return m.askAction(ctx, cs, conn.ID)
	}

	colors := conn.Colors
	if len(colors) > 1 {
		cs.State = models.StateSelectColor
		cs.Data = &models.StateData{SelectColor: &models.SelectColorData{
			ConnectionID: conn.ID,
			Colors:       colors,
		}}
		return m.sendList(ctx, cs.Phone, msgChooseColor, "Colors", colorListSections(colors))
	}
	if len(colors) == 1 && cs.Draft != nil {
		cs.Draft.Color = normalizeColor(colors[0])
	}
	return m.askAction(ctx, cs, conn.ID)
}

func (m *Machine) askAction(ctx context.Context, cs *models.ConversationState, connectionID int64) error {
	cs.State = models.StateSelectAction
	cs.Data = &models.StateData{SelectAction: &models.SelectActionData{ConnectionID: connectionID}}
	return m.sendButtons(ctx, cs.Phone, msgChooseAction, actionButtons())
}

func (m *Machine) handleSelectAccount(ctx context.Context, log *logrus.Entry, cs *models.ConversationState, msg models.InboundMessage) error {
	data := cs.Data.SelectAccount
	id, ok := parseReplyInt(msg.ReplyID, replyAccountPrefix)
	if !ok || !containsID(data.ConnectionIDs, id) {
		return m.restartWithNotice(ctx, cs)
	}

	conn, err := m.store.GetConnection(ctx, id)
	if err != nil {
		return err
	}
	if conn == nil {
		return m.restartWithNotice(ctx, cs)
	}

	if data.Purpose == models.PurposeViewScheduled {
		return m.showScheduled(ctx, cs, conn.ID)
	}
	return m.bindConnection(ctx, cs, conn)
}

func (m *Machine) handleSelectColor(ctx context.Context, log *logrus.Entry, cs *models.ConversationState, msg models.InboundMessage) error {
	data := cs.Data.SelectColor
	if !strings.HasPrefix(msg.ReplyID, replyColorPrefix) || cs.Draft == nil {
		return m.restartWithNotice(ctx, cs)
	}
	chosen := strings.TrimPrefix(msg.ReplyID, replyColorPrefix)

	found := false
	for _, c := range data.Colors {
		if strings.EqualFold(strings.TrimPrefix(c, "#"), chosen) {
			found = true
			break
		}
	}
	if !found {
		return m.restartWithNotice(ctx, cs)
	}

	cs.Draft.Color = normalizeColor(chosen)
	return m.askAction(ctx, cs, data.ConnectionID)
}

func (m *Machine) handleSelectAction(ctx context.Context, log *logrus.Entry, cs *models.ConversationState, msg models.InboundMessage) error {
	data := cs.Data.SelectAction

	switch msg.ReplyID {
	case replyActionCancel:
		m.resetToIdle(cs)
		return m.sendText(ctx, cs.Phone, msgCancelled)

	case replyActionSend:
		payload, err := content.Build(cs.Draft)
		if err != nil {
			m.resetToIdle(cs)
			return err
		}
		item, err := m.queue.Enqueue(ctx, data.ConnectionID, payload, nil, models.SourceWhatsApp, cs.Phone)
		if err != nil {
			return err
		}
		cs.State = models.StateAfterSendMenu
		cs.Data = &models.StateData{AfterSend: &models.AfterSendData{
			ConnectionID: data.ConnectionID,
			QueueItemID:  item.ID,
		}}
		if err := m.sendText(ctx, cs.Phone, queuedConfirmation()); err != nil {
			return err
		}
		return m.sendList(ctx, cs.Phone, "What would you like to do next?", "Options", afterSendSections())

	case replyActionSchedule:
		choices := m.calc.DayChoices(m.now())
		cs.State = models.StateSelectScheduleDay
		cs.Data = &models.StateData{ScheduleDay: &models.ScheduleDayData{ConnectionID: data.ConnectionID}}
		return m.sendList(ctx, cs.Phone, msgChooseDay, "Pick a day", dayListSections(choices))

	default:
		return m.restartWithNotice(ctx, cs)
	}
}

func (m *Machine) handleScheduleDay(ctx context.Context, log *logrus.Entry, cs *models.ConversationState, msg models.InboundMessage) error {
	data := cs.Data.ScheduleDay
	offset, ok := parseReplyInt(msg.ReplyID, replyDayPrefix)
	if !ok || offset < 0 || offset > 7 {
		return m.restartWithNotice(ctx, cs)
	}

	date := m.calc.DateForOffset(m.now(), int(offset))
	cs.State = models.StateSelectScheduleTime
	cs.Data = &models.StateData{ScheduleTime: &models.ScheduleTimeData{
		ConnectionID: data.ConnectionID,
		Date:         schedule.FormatDate(date),
		RescheduleID: data.RescheduleID,
	}}
	return m.sendText(ctx, cs.Phone, msgChooseTime)
}

func (m *Machine) handleScheduleTime(ctx context.Context, log *logrus.Entry, cs *models.ConversationState, msg models.InboundMessage) error {
	data := cs.Data.ScheduleTime

	hour, minute, err := schedule.ParseClock(msg.Text)
	if err != nil {
		// Re-prompt in place; the contact just mistyped.
		return m.sendText(ctx, cs.Phone, msgInvalidTime)
	}

	year, month, day, err := schedule.ParseDate(data.Date)
	if err != nil {
		return m.restartWithNotice(ctx, cs)
	}

	at := m.calc.At(year, month, day, hour, minute)
	if !at.After(m.now()) {
		return m.sendText(ctx, cs.Phone, msgTimePassed)
	}

	if data.RescheduleID != nil {
		if err := m.store.SetScheduledFor(ctx, *data.RescheduleID, &at); err != nil {
			return err
		}
	} else {
		payload, err := content.Build(cs.Draft)
		if err != nil {
			m.resetToIdle(cs)
			return err
		}
		if _, err := m.queue.Enqueue(ctx, data.ConnectionID, payload, &at, models.SourceWhatsApp, cs.Phone); err != nil {
			return err
		}
	}

	if err := m.sendText(ctx, cs.Phone, scheduledConfirmation(at, m.calc.Location())); err != nil {
		return err
	}
	return m.showScheduled(ctx, cs, data.ConnectionID)
}

func (m *Machine) handleViewScheduled(ctx context.Context, log *logrus.Entry, cs *models.ConversationState, msg models.InboundMessage) error {
	data := cs.Data.ViewScheduled
	id, ok := parseReplyInt(msg.ReplyID, replyJobPrefix)
	if !ok {
		return m.restartWithNotice(ctx, cs)
	}

	item, err := m.store.GetQueueItem(ctx, id)
	if err != nil {
		return err
	}
	if item == nil || item.ConnectionID != data.ConnectionID {
		return m.restartWithNotice(ctx, cs)
	}

	switch item.Status {
	case models.QueuePending, models.QueueScheduled:
		cs.State = models.StateViewStatusActions
		cs.Data = &models.StateData{StatusActions: &models.StatusActionsData{
			ConnectionID: data.ConnectionID,
			QueueItemID:  item.ID,
			Tag:          models.TagScheduled,
		}}
		body := describeQueueItem(item) + "\n" + describeSchedule(item.ScheduledFor, m.calc.Location())
		return m.sendButtons(ctx, cs.Phone, body, scheduledActionButtons())

	case models.QueueSent:
		cs.State = models.StateViewStatusActions
		cs.Data = &models.StateData{StatusActions: &models.StatusActionsData{
			ConnectionID: data.ConnectionID,
			QueueItemID:  item.ID,
			Tag:          models.TagSent,
		}}
		body := describeQueueItem(item) + "\nThis status is live."
		return m.sendButtons(ctx, cs.Phone, body, sentActionButtons())

	default:
		if err := m.sendText(ctx, cs.Phone, "That status is no longer available."); err != nil {
			return err
		}
		return m.showScheduled(ctx, cs, data.ConnectionID)
	}
}

func (m *Machine) handleViewStatusActions(ctx context.Context, log *logrus.Entry, cs *models.ConversationState, msg models.InboundMessage) error {
	data := cs.Data.StatusActions

	if data.Tag == models.TagSent {
		return m.handleSentActions(ctx, cs, data, msg)
	}

	switch msg.ReplyID {
	case replySendNow:
		if err := m.store.SetScheduledFor(ctx, data.QueueItemID, nil); err != nil {
			return err
		}
		m.resetToIdle(cs)
		return m.sendText(ctx, cs.Phone, "Okay, it will go out shortly.")

	case replyReschedule:
		id := data.QueueItemID
		choices := m.calc.DayChoices(m.now())
		cs.State = models.StateSelectScheduleDay
		cs.Data = &models.StateData{ScheduleDay: &models.ScheduleDayData{
			ConnectionID: data.ConnectionID,
			RescheduleID: &id,
		}}
		return m.sendList(ctx, cs.Phone, msgChooseDay, "Pick a day", dayListSections(choices))

	case replyCancelJob:
		cancelled, err := m.store.CancelQueueItem(ctx, data.QueueItemID)
		if err != nil {
			return err
		}
		m.resetToIdle(cs)
		if !cancelled {
			return m.sendText(ctx, cs.Phone, "Too late to cancel, it was already picked up.")
		}
		return m.sendText(ctx, cs.Phone, "The scheduled status was cancelled.")

	default:
		return m.restartWithNotice(ctx, cs)
	}
}

// handleSentActions covers the actions available on an already-sent
// status reached from the status list.
func (m *Machine) handleSentActions(ctx context.Context, cs *models.ConversationState, data *models.StatusActionsData, msg models.InboundMessage) error {
	switch msg.ReplyID {
	case replyViews:
		text, err := m.viewsText(ctx, data.QueueItemID)
		if err != nil {
			return err
		}
		m.resetToIdle(cs)
		return m.sendText(ctx, cs.Phone, text)

	case replyReactions:
		text, err := m.reactionsText(ctx, data.QueueItemID)
		if err != nil {
			return err
		}
		m.resetToIdle(cs)
		return m.sendText(ctx, cs.Phone, text)

	case replyDelete:
		reply, err := m.deleteStatusForItem(ctx, data.ConnectionID, data.QueueItemID)
		if err != nil {
			return err
		}
		m.resetToIdle(cs)
		return m.sendText(ctx, cs.Phone, reply)

	default:
		return m.restartWithNotice(ctx, cs)
	}
}

func (m *Machine) handleAfterSendMenu(ctx context.Context, log *logrus.Entry, cs *models.ConversationState, msg models.InboundMessage) error {
	data := cs.Data.AfterSend

	switch msg.ReplyID {
	case replyViews:
		text, err := m.viewsText(ctx, data.QueueItemID)
		if err != nil {
			return err
		}
		return m.sendText(ctx, cs.Phone, text)

	case replyReactionsHeart:
		text, err := m.reactionsFilteredText(ctx, data.QueueItemID, true)
		if err != nil {
			return err
		}
		return m.sendText(ctx, cs.Phone, text)

	case replyReactionsOther:
		text, err := m.reactionsFilteredText(ctx, data.QueueItemID, false)
		if err != nil {
			return err
		}
		return m.sendText(ctx, cs.Phone, text)

	case replyDelete:
		reply, err := m.deleteStatusForItem(ctx, data.ConnectionID, data.QueueItemID)
		if err != nil {
			return err
		}
		return m.sendText(ctx, cs.Phone, reply)

	case replyViewAll:
		return m.showScheduled(ctx, cs, data.ConnectionID)

	case replyMenu:
		m.resetToIdle(cs)
		return m.sendText(ctx, cs.Phone, msgMenuHelp)

	default:
		return m.restartWithNotice(ctx, cs)
	}
}

func (m *Machine) viewsText(ctx context.Context, queueItemID int64) (string, error) {
	ss, err := m.store.GetSentStatusByQueueItem(ctx, queueItemID)
	if err != nil {
		return "", err
	}
	if ss == nil {
		return "It hasn't been posted yet, so no views (0).", nil
	}
	views, err := m.store.ListStatusViews(ctx, ss.ID)
	if err != nil {
		return "", err
	}
	return viewsSummary(views, m.calc.Location()), nil
}

func (m *Machine) reactionsText(ctx context.Context, queueItemID int64) (string, error) {
	ss, err := m.store.GetSentStatusByQueueItem(ctx, queueItemID)
	if err != nil {
		return "", err
	}
	if ss == nil {
		return "It hasn't been posted yet, so no reactions (0).", nil
	}
	reactions, err := m.store.ListStatusReactions(ctx, ss.ID)
	if err != nil {
		return "", err
	}
	return allReactionsSummary(reactions, m.calc.Location()), nil
}

func (m *Machine) reactionsFilteredText(ctx context.Context, queueItemID int64, hearts bool) (string, error) {
	ss, err := m.store.GetSentStatusByQueueItem(ctx, queueItemID)
	if err != nil {
		return "", err
	}
	if ss == nil {
		return "It hasn't been posted yet, so no reactions (0).", nil
	}
	reactions, err := m.store.ListStatusReactions(ctx, ss.ID)
	if err != nil {
		return "", err
	}
	return reactionsSummary(reactions, m.calc.Location(), hearts), nil
}

// deleteStatusForItem cancels a job that hasn't gone out yet, or retracts
// the posted status from the network when it has.
func (m *Machine) deleteStatusForItem(ctx context.Context, connectionID, queueItemID int64) (string, error) {
	item, err := m.store.GetQueueItem(ctx, queueItemID)
	if err != nil {
		return "", err
	}
	if item == nil {
		return "That status no longer exists.", nil
	}

	switch item.Status {
	case models.QueuePending, models.QueueScheduled:
		cancelled, err := m.store.CancelQueueItem(ctx, queueItemID)
		if err != nil {
			return "", err
		}
		if cancelled {
			return "Cancelled before it was posted.", nil
		}
		return "Too late, it is being posted right now. Try deleting again in a minute.", nil

	case models.QueueSent:
		ss, err := m.store.GetSentStatusByQueueItem(ctx, queueItemID)
		if err != nil {
			return "", err
		}
		if ss == nil || ss.Deleted {
			return "That status was already deleted.", nil
		}
		conn, err := m.store.GetConnection(ctx, connectionID)
		if err != nil {
			return "", err
		}
		if conn == nil {
			return "That account no longer exists.", nil
		}
		if err := m.gateway.DeleteStatus(ctx, conn.SessionName, ss.MessageID); err != nil {
			return "", err
		}
		if err := m.store.MarkSentStatusDeleted(ctx, ss.ID); err != nil {
			return "", err
		}
		return "🗑 The status was deleted.", nil

	default:
		return "That status can no longer be deleted.", nil
	}
}

func (m *Machine) restartWithNotice(ctx context.Context, cs *models.ConversationState) error {
	m.resetToIdle(cs)
	return m.sendText(ctx, cs.Phone, msgRestarted)
}

func parseReplyInt(replyID, prefix string) (int64, bool) {
	if !strings.HasPrefix(replyID, prefix) {
		return 0, false
	}
	v, err := strconv.ParseInt(strings.TrimPrefix(replyID, prefix), 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func normalizeColor(c string) string {
	if strings.HasPrefix(c, "#") {
		return c
	}
	return "#" + c
}
