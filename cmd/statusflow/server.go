package main

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/neriyabudraham/flowbotomat-sub003/internal/content"
	"github.com/neriyabudraham/flowbotomat-sub003/internal/database"
	"github.com/neriyabudraham/flowbotomat-sub003/internal/models"
	"github.com/neriyabudraham/flowbotomat-sub003/internal/service"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Server struct {
	cfg     *models.Config
	router  *mux.Router
	logger  *logrus.Logger
	db      *database.Database
	machine *service.Machine
	queue   *service.Queue
	server  *http.Server
}

func NewServer(cfg *models.Config, db *database.Database, machine *service.Machine, queue *service.Queue, logger *logrus.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		router:  mux.NewRouter(),
		logger:  logger,
		db:      db,
		machine: machine,
		queue:   queue,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/webhook", s.requireSecret(s.handleWebhook())).Methods(http.MethodPost)
	s.router.HandleFunc("/api/queue", s.requireSecret(s.handleEnqueue())).Methods(http.MethodPost)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// requireSecret rejects callers that don't present the shared webhook
// secret. With no secret configured every caller is accepted, which is
// only sane behind a private network.
func (s *Server) requireSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		secret := s.cfg.Server.WebhookSecret
		if secret != "" {
			presented := r.Header.Get("X-Webhook-Secret")
			if !hmac.Equal([]byte(presented), []byte(secret)) {
				s.logger.Warn("Rejected request with bad webhook secret")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

// webhookEvent is one gateway callback. Message events drive the
// conversation; view and reaction events feed status history.
type webhookEvent struct {
	Event   string          `json:"event"`
	Session string          `json:"session"`
	Payload json.RawMessage `json:"payload"`
}

type messagePayload struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	Type    string `json:"type"`
	Body    string `json:"body"`
	ReplyID string `json:"replyId"`
	MediaID string `json:"mediaId"`
	Caption string `json:"caption"`
}

type statusEventPayload struct {
	MessageID string    `json:"messageId"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name"`
	Emoji     string    `json:"emoji"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var event webhookEvent
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}

		var err error
		switch event.Event {
		case "message":
			err = s.handleMessageEvent(r.Context(), event.Payload)
		case "status.view":
			err = s.handleViewEvent(r.Context(), event.Payload)
		case "status.reaction":
			err = s.handleReactionEvent(r.Context(), event.Payload)
		default:
			s.logger.WithField("event", event.Event).Debug("Ignoring unknown webhook event")
		}

		if err != nil {
			s.logger.WithError(err).WithField("event", event.Event).
				Error("Failed to handle webhook event")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleMessageEvent(ctx context.Context, raw json.RawMessage) error {
	var p messagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("invalid message payload: %w", err)
	}
	if p.From == "" {
		return fmt.Errorf("message event without sender")
	}

	msg := models.InboundMessage{
		ID:      p.ID,
		Kind:    messageKind(p.Type),
		Text:    p.Body,
		ReplyID: p.ReplyID,
		MediaID: p.MediaID,
		Caption: p.Caption,
	}
	return s.machine.HandleInbound(ctx, p.From, msg)
}

func messageKind(t string) models.MessageKind {
	switch t {
	case "text", "chat":
		return models.KindText
	case "image":
		return models.KindImage
	case "video":
		return models.KindVideo
	case "voice", "ptt", "audio":
		return models.KindVoice
	case "button_reply", "buttons_response":
		return models.KindButtonReply
	case "list_reply", "list_response":
		return models.KindListReply
	default:
		return models.KindUnsupported
	}
}

func (s *Server) handleViewEvent(ctx context.Context, raw json.RawMessage) error {
	var p statusEventPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("invalid view payload: %w", err)
	}

	ss, err := s.db.GetSentStatusByMessageID(ctx, p.MessageID)
	if err != nil {
		return err
	}
	if ss == nil {
		s.logger.WithField("message_id", p.MessageID).Debug("View event for unknown status")
		return nil
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	return s.db.InsertStatusView(ctx, &models.StatusView{
		SentStatusID: ss.ID,
		ViewerPhone:  p.Phone,
		ViewerName:   p.Name,
		ViewedAt:     p.Timestamp,
	})
}

func (s *Server) handleReactionEvent(ctx context.Context, raw json.RawMessage) error {
	var p statusEventPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("invalid reaction payload: %w", err)
	}

	ss, err := s.db.GetSentStatusByMessageID(ctx, p.MessageID)
	if err != nil {
		return err
	}
	if ss == nil {
		s.logger.WithField("message_id", p.MessageID).Debug("Reaction event for unknown status")
		return nil
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	return s.db.InsertStatusReaction(ctx, &models.StatusReaction{
		SentStatusID: ss.ID,
		ReactorPhone: p.Phone,
		ReactorName:  p.Name,
		Emoji:        p.Emoji,
		ReactedAt:    p.Timestamp,
	})
}

// enqueueRequest is the web surface's direct enqueue. It skips the
// conversational flow entirely; the processor still applies every posting
// rule at dispatch time.
type enqueueRequest struct {
	ConnectionID    int64  `json:"connectionId"`
	Type            string `json:"type"`
	Text            string `json:"text"`
	BackgroundColor string `json:"backgroundColor"`
	Font            int    `json:"font"`
	MediaURL        string `json:"mediaUrl"`
	Caption         string `json:"caption"`
	ScheduledFor    string `json:"scheduledFor"` // RFC3339, optional
}

type enqueueResponse struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

func (s *Server) handleEnqueue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req enqueueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}

		conn, err := s.db.GetConnection(r.Context(), req.ConnectionID)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if conn == nil {
			http.Error(w, "unknown connection", http.StatusNotFound)
			return
		}

		draft := &models.StatusDraft{
			Kind:     models.StatusType(req.Type),
			Text:     req.Text,
			MediaURL: req.MediaURL,
			Color:    req.BackgroundColor,
		}
		if draft.Text == "" {
			draft.Text = req.Caption
		}
		payload, err := buildWebContent(draft, req.Font)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var scheduledFor *time.Time
		if req.ScheduledFor != "" {
			at, err := time.Parse(time.RFC3339, req.ScheduledFor)
			if err != nil {
				http.Error(w, "invalid scheduledFor", http.StatusBadRequest)
				return
			}
			if !at.After(time.Now()) {
				http.Error(w, "scheduledFor must be in the future", http.StatusBadRequest)
				return
			}
			scheduledFor = &at
		}

		item, err := s.queue.Enqueue(r.Context(), req.ConnectionID, payload, scheduledFor, models.SourceWeb, "")
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(enqueueResponse{ID: item.ID, Status: string(item.Status)})
	}
}

func buildWebContent(draft *models.StatusDraft, font int) (models.StatusContent, error) {
	payload, err := content.Build(draft)
	if err != nil {
		return models.StatusContent{}, err
	}
	if payload.Type == models.StatusTypeText && font > 0 {
		payload.Font = font
	}
	return payload, nil
}
