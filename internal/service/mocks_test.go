package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/neriyabudraham/flowbotomat-sub003/internal/models"
	"github.com/neriyabudraham/flowbotomat-sub003/pkg/whatsapp/types"
)

// fakeStore is an in-memory stand-in for the database, implementing the
// store interfaces of the machine, the processor and the notifier.
type fakeStore struct {
	mu         sync.Mutex
	states     map[string]*models.ConversationState
	conns      map[int64]*models.Connection
	authorized map[string][]int64
	items      map[int64]*models.QueueItem
	nextItemID int64
	lock       models.QueueLock
	sent       map[int64]*models.SentStatus
	nextSentID int64
	views      map[int64][]models.StatusView
	reactions  map[int64][]models.StatusReaction
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		states:     make(map[string]*models.ConversationState),
		conns:      make(map[int64]*models.Connection),
		authorized: make(map[string][]int64),
		items:      make(map[int64]*models.QueueItem),
		sent:       make(map[int64]*models.SentStatus),
		views:      make(map[int64][]models.StatusView),
		reactions:  make(map[int64][]models.StatusReaction),
	}
}

func (f *fakeStore) addConnection(conn *models.Connection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conns[conn.ID] = conn
}

func (f *fakeStore) authorize(phone string, connIDs ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authorized[phone] = connIDs
}

func (f *fakeStore) GetConversationState(ctx context.Context, phone string) (*models.ConversationState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cs, ok := f.states[phone]
	if !ok {
		return nil, nil
	}
	copied := *cs
	return &copied, nil
}

func (f *fakeStore) SaveConversationState(ctx context.Context, cs *models.ConversationState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *cs
	f.states[cs.Phone] = &copied
	return nil
}

func (f *fakeStore) GetConnection(ctx context.Context, id int64) (*models.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conn, ok := f.conns[id]
	if !ok {
		return nil, nil
	}
	copied := *conn
	return &copied, nil
}

func (f *fakeStore) ListAuthorizedConnections(ctx context.Context, phones []string) ([]models.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[int64]bool{}
	var out []models.Connection
	for _, p := range phones {
		for _, id := range f.authorized[p] {
			if seen[id] {
				continue
			}
			seen[id] = true
			if conn, ok := f.conns[id]; ok {
				out = append(out, *conn)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) EnqueueItem(ctx context.Context, item *models.QueueItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextItemID++
	item.ID = f.nextItemID
	if item.Status == "" {
		item.Status = models.QueuePending
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	copied := *item
	f.items[item.ID] = &copied
	return nil
}

func (f *fakeStore) GetQueueItem(ctx context.Context, id int64) (*models.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return nil, nil
	}
	copied := *item
	return &copied, nil
}

func pendingOrder(items []models.QueueItem) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if (a.ScheduledFor == nil) != (b.ScheduledFor == nil) {
			return a.ScheduledFor == nil
		}
		if a.ScheduledFor != nil && !a.ScheduledFor.Equal(*b.ScheduledFor) {
			return a.ScheduledFor.Before(*b.ScheduledFor)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func (f *fakeStore) ListPendingByConnection(ctx context.Context, connectionID int64) ([]models.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.QueueItem
	for _, item := range f.items {
		if item.ConnectionID == connectionID &&
			(item.Status == models.QueuePending || item.Status == models.QueueScheduled) {
			out = append(out, *item)
		}
	}
	pendingOrder(out)
	return out, nil
}

func (f *fakeStore) ListRecentSentByConnection(ctx context.Context, connectionID int64, since time.Time) ([]models.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.QueueItem
	for _, item := range f.items {
		if item.ConnectionID == connectionID && item.Status == models.QueueSent &&
			item.SentAt != nil && !item.SentAt.Before(since) {
			out = append(out, *item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.After(*out[j].SentAt) })
	return out, nil
}

func (f *fakeStore) ListDueCandidates(ctx context.Context, now time.Time) ([]models.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.QueueItem
	for _, item := range f.items {
		if (item.Status == models.QueuePending || item.Status == models.QueueScheduled) && item.Due(now) {
			out = append(out, *item)
		}
	}
	pendingOrder(out)
	return out, nil
}

func (f *fakeStore) MarkProcessing(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok || (item.Status != models.QueuePending && item.Status != models.QueueScheduled) {
		return fmt.Errorf("queue item %d is not pending", id)
	}
	item.Status = models.QueueProcessing
	return nil
}

func (f *fakeStore) MarkSent(ctx context.Context, id int64, sentAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := f.items[id]
	item.Status = models.QueueSent
	item.SentAt = &sentAt
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := f.items[id]
	item.Status = models.QueueFailed
	item.ErrorMessage = errMsg
	item.RetryCount++
	return nil
}

func (f *fakeStore) CancelQueueItem(ctx context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok || (item.Status != models.QueuePending && item.Status != models.QueueScheduled) {
		return false, nil
	}
	item.Status = models.QueueCancelled
	return true, nil
}

func (f *fakeStore) SetScheduledFor(ctx context.Context, id int64, at *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return fmt.Errorf("queue item %d not found", id)
	}
	item.ScheduledFor = at
	return nil
}

func (f *fakeStore) SetQueueItemMessageID(ctx context.Context, id int64, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return fmt.Errorf("queue item %d not found", id)
	}
	item.MessageID = messageID
	return nil
}

func (f *fakeStore) ReclassifyStuckProcessing(ctx context.Context, errMsg string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, item := range f.items {
		if item.Status == models.QueueProcessing {
			item.Status = models.QueueFailed
			item.ErrorMessage = errMsg
			item.RetryCount++
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) GetQueueLock(ctx context.Context) (*models.QueueLock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := f.lock
	return &copied, nil
}

func (f *fakeStore) TryAcquireQueueLock(ctx context.Context, startedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lock.IsProcessing {
		return false, nil
	}
	f.lock.IsProcessing = true
	f.lock.ProcessingStartedAt = &startedAt
	return true, nil
}

func (f *fakeStore) ReleaseQueueLock(ctx context.Context, sentAt *time.Time, connectionID *int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lock.IsProcessing = false
	f.lock.ProcessingStartedAt = nil
	if sentAt != nil {
		f.lock.LastSentAt = sentAt
		f.lock.LastSentConnectionID = connectionID
	}
	return nil
}

func (f *fakeStore) ForceClearQueueLock(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lock.IsProcessing = false
	f.lock.ProcessingStartedAt = nil
	return nil
}

func (f *fakeStore) InsertSentStatus(ctx context.Context, ss *models.SentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSentID++
	ss.ID = f.nextSentID
	copied := *ss
	f.sent[ss.QueueItemID] = &copied
	return nil
}

func (f *fakeStore) GetSentStatusByQueueItem(ctx context.Context, queueItemID int64) (*models.SentStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ss, ok := f.sent[queueItemID]
	if !ok {
		return nil, nil
	}
	copied := *ss
	return &copied, nil
}

func (f *fakeStore) MarkSentStatusDeleted(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ss := range f.sent {
		if ss.ID == id {
			ss.Deleted = true
		}
	}
	return nil
}

func (f *fakeStore) ListStatusViews(ctx context.Context, sentStatusID int64) ([]models.StatusView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.StatusView(nil), f.views[sentStatusID]...), nil
}

func (f *fakeStore) ListStatusReactions(ctx context.Context, sentStatusID int64) ([]models.StatusReaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.StatusReaction(nil), f.reactions[sentStatusID]...), nil
}

type sentText struct {
	Phone string
	Text  string
}

type sentButtons struct {
	Phone   string
	Body    string
	Buttons []types.Button
}

type sentList struct {
	Phone    string
	Body     string
	Sections []types.ListSection
}

// fakeGateway records outbound traffic and returns configurable results.
type fakeGateway struct {
	mu      sync.Mutex
	Texts   []sentText
	Buttons []sentButtons
	Lists   []sentList
	Posts   []types.StatusPost
	Deleted []string

	RehostURL    string
	RehostErr    error
	MessageID    string
	MessageIDErr error
	PostResp     *types.PostStatusResponse
	PostErr      error
	DeleteErr    error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{RehostURL: "https://cdn.example/media/1", MessageID: "mid-1"}
}

func (g *fakeGateway) SendText(ctx context.Context, session, phone, text string) (*types.SendMessageResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Texts = append(g.Texts, sentText{Phone: phone, Text: text})
	return &types.SendMessageResponse{Status: "sent"}, nil
}

func (g *fakeGateway) SendButtons(ctx context.Context, session, phone, body string, buttons []types.Button) (*types.SendMessageResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Buttons = append(g.Buttons, sentButtons{Phone: phone, Body: body, Buttons: buttons})
	return &types.SendMessageResponse{Status: "sent"}, nil
}

func (g *fakeGateway) SendList(ctx context.Context, session, phone, body, buttonText string, sections []types.ListSection) (*types.SendMessageResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Lists = append(g.Lists, sentList{Phone: phone, Body: body, Sections: sections})
	return &types.SendMessageResponse{Status: "sent"}, nil
}

func (g *fakeGateway) RehostMedia(ctx context.Context, session, mediaID string) (string, error) {
	if g.RehostErr != nil {
		return "", g.RehostErr
	}
	return g.RehostURL, nil
}

func (g *fakeGateway) RequestMessageID(ctx context.Context, session string) (string, error) {
	if g.MessageIDErr != nil {
		return "", g.MessageIDErr
	}
	return g.MessageID, nil
}

func (g *fakeGateway) PostStatus(ctx context.Context, session string, post types.StatusPost) (*types.PostStatusResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.PostErr != nil {
		return nil, g.PostErr
	}
	g.Posts = append(g.Posts, post)
	if g.PostResp != nil {
		return g.PostResp, nil
	}
	return &types.PostStatusResponse{MessageID: post.MessageID, Status: "sent"}, nil
}

func (g *fakeGateway) DeleteStatus(ctx context.Context, session, messageID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.DeleteErr != nil {
		return g.DeleteErr
	}
	g.Deleted = append(g.Deleted, messageID)
	return nil
}

func (g *fakeGateway) MarkRead(ctx context.Context, session, phone, messageID string) error {
	return nil
}

func (g *fakeGateway) lastText() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.Texts) == 0 {
		return ""
	}
	return g.Texts[len(g.Texts)-1].Text
}
