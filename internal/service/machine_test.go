package service

import (
	"context"
	"testing"
	"time"

	"github.com/neriyabudraham/flowbotomat-sub003/internal/auth"
	"github.com/neriyabudraham/flowbotomat-sub003/internal/models"
	"github.com/neriyabudraham/flowbotomat-sub003/internal/schedule"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPhone = "972501234567@c.us"

var testNow = time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC)

func newTestMachine(t *testing.T) (*Machine, *fakeStore, *fakeGateway) {
	t.Helper()

	store := newFakeStore()
	gw := newFakeGateway()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	calc, err := schedule.NewCalculator("UTC")
	require.NoError(t, err)

	resolver := auth.NewResolver(store, 24*time.Hour)
	queue := NewQueue(store, logger)
	m := NewMachine(store, gw, resolver, calc, queue, "bot", logger)
	m.now = func() time.Time { return testNow }
	return m, store, gw
}

func eligibleConnection(id int64, colors ...string) *models.Connection {
	return &models.Connection{
		ID:                id,
		OwnerName:         "Owner",
		DisplayName:       "Account " + string(rune('A'+id-1)),
		SessionName:       "session-a",
		Status:            models.ConnectionConnected,
		RestrictionLifted: true,
		Colors:            colors,
	}
}

func savedState(t *testing.T, store *fakeStore) *models.ConversationState {
	t.Helper()
	cs, err := store.GetConversationState(context.Background(), testPhone)
	require.NoError(t, err)
	require.NotNil(t, cs)
	return cs
}

func TestTextStatusSendFlow(t *testing.T) {
	m, store, gw := newTestMachine(t)
	store.addConnection(eligibleConnection(1, "25D366"))
	store.authorize("972501234567", 1)

	err := m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindText, Text: "hello world",
	})
	require.NoError(t, err)

	// Single account and single color: straight to the action prompt.
	cs := savedState(t, store)
	assert.Equal(t, models.StateSelectAction, cs.State)
	require.NotNil(t, cs.Draft)
	assert.Equal(t, "hello world", cs.Draft.Text)
	assert.Equal(t, "#25D366", cs.Draft.Color)
	require.Len(t, gw.Buttons, 1)
	assert.Len(t, gw.Buttons[0].Buttons, 3)

	err = m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindButtonReply, ReplyID: "action_send",
	})
	require.NoError(t, err)

	cs = savedState(t, store)
	assert.Equal(t, models.StateAfterSendMenu, cs.State)
	require.NotNil(t, cs.Data)
	require.NotNil(t, cs.Data.AfterSend)

	item, err := store.GetQueueItem(context.Background(), cs.Data.AfterSend.QueueItemID)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, models.QueuePending, item.Status)
	assert.Nil(t, item.ScheduledFor)
	assert.Equal(t, models.SourceWhatsApp, item.Source)
	assert.Equal(t, "hello world", item.Content.Text)
	assert.Equal(t, "#25D366", item.Content.BackgroundColor)
}

func TestScheduleFlow(t *testing.T) {
	m, store, gw := newTestMachine(t)
	store.addConnection(eligibleConnection(1))
	store.authorize("972501234567", 1)

	require.NoError(t, m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindText, Text: "shabbat shalom",
	}))
	require.NoError(t, m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindButtonReply, ReplyID: "action_schedule",
	}))

	cs := savedState(t, store)
	assert.Equal(t, models.StateSelectScheduleDay, cs.State)
	require.Len(t, gw.Lists, 1)
	assert.Len(t, gw.Lists[0].Sections[0].Rows, 8)

	require.NoError(t, m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindListReply, ReplyID: "day_1",
	}))
	cs = savedState(t, store)
	assert.Equal(t, models.StateSelectScheduleTime, cs.State)
	assert.Equal(t, "2026-08-31", cs.Data.ScheduleTime.Date)

	require.NoError(t, m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindText, Text: "7:30",
	}))
	cs = savedState(t, store)
	assert.Equal(t, models.StateViewScheduled, cs.State)

	items, err := store.ListPendingByConnection(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].ScheduledFor)
	assert.Equal(t, time.Date(2026, time.August, 31, 7, 30, 0, 0, time.UTC), items[0].ScheduledFor.UTC())

	// Manage it: open actions and cancel.
	require.NoError(t, m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindListReply, ReplyID: "job_1",
	}))
	cs = savedState(t, store)
	assert.Equal(t, models.StateViewStatusActions, cs.State)
	assert.Equal(t, models.TagScheduled, cs.Data.StatusActions.Tag)

	require.NoError(t, m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindButtonReply, ReplyID: "cancel",
	}))
	cs = savedState(t, store)
	assert.Equal(t, models.StateIdle, cs.State)

	item, err := store.GetQueueItem(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.QueueCancelled, item.Status)
}

func TestInvalidAndPastTimesReprompt(t *testing.T) {
	m, store, gw := newTestMachine(t)
	store.addConnection(eligibleConnection(1))
	store.authorize("972501234567", 1)

	require.NoError(t, m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindText, Text: "late post",
	}))
	require.NoError(t, m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindButtonReply, ReplyID: "action_schedule",
	}))
	require.NoError(t, m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindListReply, ReplyID: "day_0",
	}))

	// Garbage time keeps the state and re-prompts.
	require.NoError(t, m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindText, Text: "half past nine",
	}))
	assert.Equal(t, models.StateSelectScheduleTime, savedState(t, store).State)
	assert.Equal(t, msgInvalidTime, gw.lastText())

	// A time earlier today is already gone (now is 12:00 UTC).
	require.NoError(t, m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindText, Text: "9",
	}))
	assert.Equal(t, models.StateSelectScheduleTime, savedState(t, store).State)
	assert.Equal(t, msgTimePassed, gw.lastText())

	// A later time succeeds.
	require.NoError(t, m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindText, Text: "18:00",
	}))
	assert.Equal(t, models.StateViewScheduled, savedState(t, store).State)
}

func TestMultiAccountAndColorSelection(t *testing.T) {
	m, store, gw := newTestMachine(t)
	store.addConnection(eligibleConnection(1, "25D366", "FF0000"))
	store.addConnection(eligibleConnection(2, "25D366", "FF0000"))
	store.authorize("972501234567", 1, 2)

	require.NoError(t, m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindText, Text: "multi account post",
	}))
	cs := savedState(t, store)
	assert.Equal(t, models.StateSelectAccount, cs.State)
	assert.Equal(t, []int64{1, 2}, cs.Data.SelectAccount.ConnectionIDs)

	require.NoError(t, m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindListReply, ReplyID: "account_2",
	}))
	cs = savedState(t, store)
	assert.Equal(t, models.StateSelectColor, cs.State)
	require.NotNil(t, cs.ConnectionID)
	assert.Equal(t, int64(2), *cs.ConnectionID)

	require.NoError(t, m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindListReply, ReplyID: "color_ff0000",
	}))
	cs = savedState(t, store)
	assert.Equal(t, models.StateSelectAction, cs.State)
	assert.Equal(t, "#ff0000", cs.Draft.Color)
	assert.NotEmpty(t, gw.Buttons)
}

func TestImageSkipsColorSelection(t *testing.T) {
	m, store, _ := newTestMachine(t)
	store.addConnection(eligibleConnection(1, "25D366", "FF0000"))
	store.authorize("972501234567", 1)

	require.NoError(t, m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindImage, MediaID: "media-7", Caption: "look at this",
	}))

	cs := savedState(t, store)
	assert.Equal(t, models.StateSelectAction, cs.State)
	require.NotNil(t, cs.Draft)
	assert.Equal(t, models.StatusTypeImage, cs.Draft.Kind)
	assert.Equal(t, "https://cdn.example/media/1", cs.Draft.MediaURL)
	assert.Equal(t, "look at this", cs.Draft.Text)
}

func TestCancelCommandFromAnyState(t *testing.T) {
	m, store, gw := newTestMachine(t)
	store.addConnection(eligibleConnection(1))
	store.authorize("972501234567", 1)

	require.NoError(t, m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindText, Text: "draft to abandon",
	}))
	require.Equal(t, models.StateSelectAction, savedState(t, store).State)

	require.NoError(t, m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindText, Text: "ביטול",
	}))

	cs := savedState(t, store)
	assert.Equal(t, models.StateIdle, cs.State)
	assert.Nil(t, cs.Draft)
	assert.Equal(t, msgCancelled, gw.lastText())
}

func TestUnauthorizedNotifiedOnce(t *testing.T) {
	m, store, gw := newTestMachine(t)

	require.NoError(t, m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindText, Text: "hello?",
	}))
	require.Len(t, gw.Texts, 1)
	assert.Equal(t, msgNotAuthorized, gw.Texts[0].Text)

	// Repeat content stays silent.
	require.NoError(t, m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindText, Text: "hello??",
	}))
	assert.Len(t, gw.Texts, 1)

	cs := savedState(t, store)
	assert.True(t, cs.NotifiedNotAuthorized)
	assert.Equal(t, models.StateIdle, cs.State)
}

func TestRestartGuardOnUnexpectedContent(t *testing.T) {
	m, store, _ := newTestMachine(t)
	store.addConnection(eligibleConnection(1))
	store.authorize("972501234567", 1)

	require.NoError(t, m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindText, Text: "first draft",
	}))
	require.Equal(t, models.StateSelectAction, savedState(t, store).State)

	// Fresh text while a button reply is expected starts a new flow.
	require.NoError(t, m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindText, Text: "second draft",
	}))

	cs := savedState(t, store)
	assert.Equal(t, models.StateSelectAction, cs.State)
	require.NotNil(t, cs.Draft)
	assert.Equal(t, "second draft", cs.Draft.Text)
}

func TestQuarantinedAccountRejectedAtValidation(t *testing.T) {
	m, store, gw := newTestMachine(t)
	recently := testNow.Add(-2 * time.Hour)
	conn := eligibleConnection(1)
	conn.RestrictionLifted = false
	conn.LastConnectedAt = &recently
	store.addConnection(conn)
	store.authorize("972501234567", 1)

	require.NoError(t, m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindText, Text: "too soon",
	}))

	cs := savedState(t, store)
	assert.Equal(t, models.StateIdle, cs.State)
	assert.Nil(t, cs.Draft)
	assert.Contains(t, gw.lastText(), "waiting period")
}

func TestDisconnectedAccountRejectedAtValidation(t *testing.T) {
	m, store, gw := newTestMachine(t)
	conn := eligibleConnection(1)
	conn.Status = models.ConnectionDisconnected
	store.addConnection(conn)
	store.authorize("972501234567", 1)

	require.NoError(t, m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindText, Text: "offline",
	}))

	assert.Equal(t, models.StateIdle, savedState(t, store).State)
	assert.Contains(t, gw.lastText(), "not connected")
}

func TestBlockedContactDroppedSilently(t *testing.T) {
	m, store, gw := newTestMachine(t)
	until := testNow.Add(time.Hour)
	require.NoError(t, store.SaveConversationState(context.Background(), &models.ConversationState{
		Phone:        testPhone,
		State:        models.StateIdle,
		BlockedUntil: &until,
	}))

	require.NoError(t, m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindText, Text: "am I blocked?",
	}))
	assert.Empty(t, gw.Texts)
	assert.Empty(t, gw.Lists)
}

func TestStatusesCommandShowsPendingJobs(t *testing.T) {
	m, store, gw := newTestMachine(t)
	store.addConnection(eligibleConnection(1))
	store.authorize("972501234567", 1)

	at := testNow.Add(3 * time.Hour)
	require.NoError(t, store.EnqueueItem(context.Background(), &models.QueueItem{
		ConnectionID: 1,
		StatusType:   models.StatusTypeText,
		Content:      models.StatusContent{Type: models.StatusTypeText, Text: "queued"},
		Status:       models.QueuePending,
		ScheduledFor: &at,
		Source:       models.SourceWhatsApp,
		SourcePhone:  testPhone,
	}))

	require.NoError(t, m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindText, Text: "statuses",
	}))

	cs := savedState(t, store)
	assert.Equal(t, models.StateViewScheduled, cs.State)
	require.Len(t, gw.Lists, 1)
	assert.Equal(t, "job_1", gw.Lists[0].Sections[0].Rows[0].ID)
}

func TestAfterSendMenuCountersAndDelete(t *testing.T) {
	m, store, gw := newTestMachine(t)
	store.addConnection(eligibleConnection(1))
	store.authorize("972501234567", 1)

	// A sent item with history.
	sentAt := testNow.Add(-time.Hour)
	item := &models.QueueItem{
		ConnectionID: 1,
		StatusType:   models.StatusTypeText,
		Content:      models.StatusContent{Type: models.StatusTypeText, Text: "live"},
		Status:       models.QueueSent,
		Source:       models.SourceWhatsApp,
		SourcePhone:  testPhone,
		SentAt:       &sentAt,
		MessageID:    "mid-9",
	}
	require.NoError(t, store.EnqueueItem(context.Background(), item))
	store.items[item.ID].Status = models.QueueSent
	require.NoError(t, store.InsertSentStatus(context.Background(), &models.SentStatus{
		QueueItemID:  item.ID,
		ConnectionID: 1,
		MessageID:    "mid-9",
		PostedAt:     sentAt,
		ExpiresAt:    sentAt.Add(24 * time.Hour),
	}))
	store.views[1] = []models.StatusView{{SentStatusID: 1, ViewerPhone: "972500000001", ViewedAt: testNow}}
	store.reactions[1] = []models.StatusReaction{
		{SentStatusID: 1, ReactorPhone: "972500000002", Emoji: models.HeartEmoji, ReactedAt: testNow},
	}

	require.NoError(t, store.SaveConversationState(context.Background(), &models.ConversationState{
		Phone: testPhone,
		State: models.StateAfterSendMenu,
		Data: &models.StateData{AfterSend: &models.AfterSendData{
			ConnectionID: 1, QueueItemID: item.ID,
		}},
		Draft: &models.StatusDraft{Kind: models.StatusTypeText, Text: "live"},
	}))

	require.NoError(t, m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindListReply, ReplyID: "views",
	}))
	assert.Contains(t, gw.lastText(), "1 view")
	assert.Equal(t, models.StateAfterSendMenu, savedState(t, store).State)

	require.NoError(t, m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindListReply, ReplyID: "reactions_heart",
	}))
	assert.Contains(t, gw.lastText(), "1 reaction")

	require.NoError(t, m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindListReply, ReplyID: "reactions_other",
	}))
	assert.Contains(t, gw.lastText(), "(0)")

	require.NoError(t, m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindListReply, ReplyID: "delete",
	}))
	assert.Equal(t, []string{"mid-9"}, gw.Deleted)
	ss, err := store.GetSentStatusByQueueItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.True(t, ss.Deleted)
	assert.Equal(t, models.StateAfterSendMenu, savedState(t, store).State)
}

func TestMenuCommandKeepsState(t *testing.T) {
	m, store, gw := newTestMachine(t)
	store.addConnection(eligibleConnection(1))
	store.authorize("972501234567", 1)

	require.NoError(t, m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindText, Text: "a draft",
	}))
	require.NoError(t, m.HandleInbound(context.Background(), testPhone, models.InboundMessage{
		Kind: models.KindText, Text: "תפריט",
	}))

	assert.Equal(t, models.StateSelectAction, savedState(t, store).State)
	assert.Equal(t, msgMenuHelp, gw.lastText())
}
