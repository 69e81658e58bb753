package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/neriyabudraham/flowbotomat-sub003/pkg/whatsapp/types"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// SessionEventHandler receives gateway session-status events.
type SessionEventHandler func(ctx context.Context, event types.SessionEvent)

// EventListener maintains a websocket subscription to the gateway's event
// stream and forwards session status changes to a handler. Connection
// drops are retried with a fixed delay until the context ends.
type EventListener struct {
	url          string
	apiKey       string
	handler      SessionEventHandler
	reconnectSec int
	logger       *logrus.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewEventListener(url, apiKey string, reconnectSec int, handler SessionEventHandler, logger *logrus.Logger) *EventListener {
	if reconnectSec <= 0 {
		reconnectSec = 5
	}
	return &EventListener{
		url:          url,
		apiKey:       apiKey,
		handler:      handler,
		reconnectSec: reconnectSec,
		logger:       logger,
	}
}

// Start begins listening in the background.
func (l *EventListener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return fmt.Errorf("event listener is already running")
	}
	if l.url == "" {
		return fmt.Errorf("event stream URL is not configured")
	}

	ctx, l.cancel = context.WithCancel(ctx)
	l.running = true

	l.wg.Add(1)
	go l.listenLoop(ctx)

	l.logger.WithField("url", l.url).Info("Gateway event listener started")
	return nil
}

// Stop tears the subscription down and waits for the loop to exit.
func (l *EventListener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return
	}
	l.cancel()
	l.wg.Wait()
	l.running = false
	l.logger.Info("Gateway event listener stopped")
}

func (l *EventListener) listenLoop(ctx context.Context) {
	defer l.wg.Done()

	for {
		if err := l.listenOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.WithError(err).Warn("Gateway event stream disconnected, reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(l.reconnectSec) * time.Second):
		}
	}
}

func (l *EventListener) listenOnce(ctx context.Context) error {
	opts := &websocket.DialOptions{}
	if l.apiKey != "" {
		opts.HTTPHeader = http.Header{"X-Api-Key": []string{l.apiKey}}
	}

	conn, _, err := websocket.Dial(ctx, l.url, opts)
	if err != nil {
		return fmt.Errorf("failed to dial event stream: %w", err)
	}
	defer conn.CloseNow()

	l.logger.Debug("Gateway event stream connected")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("event stream read failed: %w", err)
		}

		var event types.SessionEvent
		if err := json.Unmarshal(data, &event); err != nil {
			l.logger.WithError(err).Warn("Dropping undecodable gateway event")
			continue
		}
		if event.Event != "session.status" {
			continue
		}
		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now()
		}

		l.handler(ctx, event)
	}
}
