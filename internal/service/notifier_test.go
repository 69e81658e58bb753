package service

import (
	"context"
	"testing"
	"time"

	"github.com/neriyabudraham/flowbotomat-sub003/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNotifier(store *fakeStore, gw *fakeGateway) *Notifier {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewNotifier(store, gw, "bot", newPhoneLocks(), logger)
}

func scheduledItem(source models.Source, createdAt time.Time, scheduledFor *time.Time) *models.QueueItem {
	return &models.QueueItem{
		ID:           7,
		ConnectionID: 1,
		StatusType:   models.StatusTypeText,
		Status:       models.QueueSent,
		Source:       source,
		SourcePhone:  testPhone,
		CreatedAt:    createdAt,
		ScheduledFor: scheduledFor,
	}
}

func TestNotifySuccessNearTermSchedule(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	n := newTestNotifier(store, gw)

	at := testNow.Add(2 * time.Hour)
	item := scheduledItem(models.SourceWhatsApp, testNow, &at)
	conn := eligibleConnection(1)

	n.NotifySuccess(context.Background(), item, conn)

	require.Len(t, gw.Texts, 1)
	assert.Contains(t, gw.Texts[0].Text, conn.DisplayName)
	require.Len(t, gw.Lists, 1)

	cs, err := store.GetConversationState(context.Background(), testPhone)
	require.NoError(t, err)
	require.NotNil(t, cs)
	assert.Equal(t, models.StateAfterSendMenu, cs.State)
	require.NotNil(t, cs.Data)
	require.NotNil(t, cs.Data.AfterSend)
	assert.Equal(t, int64(7), cs.Data.AfterSend.QueueItemID)
}

func TestNotifySkipsWebJobs(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	n := newTestNotifier(store, gw)

	at := testNow.Add(2 * time.Hour)
	n.NotifySuccess(context.Background(), scheduledItem(models.SourceWeb, testNow, &at), eligibleConnection(1))
	assert.Empty(t, gw.Texts)
}

func TestNotifySkipsImmediateSends(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	n := newTestNotifier(store, gw)

	n.NotifySuccess(context.Background(), scheduledItem(models.SourceWhatsApp, testNow, nil), eligibleConnection(1))
	assert.Empty(t, gw.Texts)
}

func TestNotifySkipsFarSchedules(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	n := newTestNotifier(store, gw)

	at := testNow.Add(25 * time.Hour)
	n.NotifySuccess(context.Background(), scheduledItem(models.SourceWhatsApp, testNow, &at), eligibleConnection(1))
	assert.Empty(t, gw.Texts)

	n.NotifyFailure(context.Background(), scheduledItem(models.SourceWhatsApp, testNow, &at), "boom")
	assert.Empty(t, gw.Texts)
}

func TestNotifySuccessWaitsForPhoneLock(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	locks := newPhoneLocks()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	n := NewNotifier(store, gw, "bot", locks, logger)

	at := testNow.Add(2 * time.Hour)
	item := scheduledItem(models.SourceWhatsApp, testNow, &at)

	unlock := locks.Lock(testPhone)
	done := make(chan struct{})
	go func() {
		n.NotifySuccess(context.Background(), item, eligibleConnection(1))
		close(done)
	}()

	// While another event holds the phone nothing may go out yet.
	time.Sleep(50 * time.Millisecond)
	gw.mu.Lock()
	sent := len(gw.Texts)
	gw.mu.Unlock()
	assert.Zero(t, sent)

	unlock()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("notification never completed after the phone was released")
	}

	require.Len(t, gw.Texts, 1)
	cs, err := store.GetConversationState(context.Background(), testPhone)
	require.NoError(t, err)
	require.NotNil(t, cs)
	assert.Equal(t, models.StateAfterSendMenu, cs.State)
}

func TestNotifyFailureSendsPlainText(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	n := newTestNotifier(store, gw)

	at := testNow.Add(time.Hour)
	n.NotifyFailure(context.Background(), scheduledItem(models.SourceWhatsApp, testNow, &at), "session gone")

	require.Len(t, gw.Texts, 1)
	assert.Contains(t, gw.Texts[0].Text, "session gone")
	assert.Empty(t, gw.Lists)
}
