package chat

import (
	"context"
	"log/slog"
	"strings"

	"github.com/taskora/taskora-backend/internal/broadcast"
	"github.com/taskora/taskora-backend/internal/presence"
	"github.com/taskora/taskora-backend/internal/shared"
	"github.com/taskora/taskora-backend/internal/user"
	"github.com/taskora/taskora-backend/internal/worker"
)

const maxContentLength = 4000

// Tracker feeds persisted messages into response-metrics classification.
// Implemented by the metrics engine.
type Tracker interface {
	TrackMessage(ctx context.Context, msg *Message, recipientID string, senderRole, recipientRole shared.Role)
}

// Deliverer pushes an event to a user's private channel.
type Deliverer interface {
	DeliverToUser(userID string, event *broadcast.Event)
}

// Notifier is the notification dispatcher boundary.
type Notifier interface {
	Dispatch(ctx context.Context, userID, kind, title, body string, data any)
}

// PresenceSource resolves privacy-scoped presence snapshots for read
// enrichment.
type PresenceSource interface {
	GetSnapshot(ctx context.Context, userID string) (*presence.Snapshot, error)
}

// ViewerSource reports whether the user has a live connection that joined the
// conversation. Implemented by the session registry.
type ViewerSource interface {
	HasViewer(userID, conversationID string) bool
}

// MessageView pairs a message with the sender's presence snapshot.
type MessageView struct {
	*Message
	SenderPresence *presence.Snapshot `json:"sender_presence,omitempty"`
}

// ConversationView is one entry of a user's conversation list.
type ConversationView struct {
	*Conversation
	LastMessage     *Message           `json:"last_message,omitempty"`
	PartnerID       string             `json:"partner_id"`
	PartnerPresence *presence.Snapshot `json:"partner_presence,omitempty"`
}

// Service orchestrates message sending: persist first, then hand every
// downstream effect (metrics, fan-out, notification) to the worker pool so a
// slow or failing side effect never blocks the sender.
type Service struct {
	store    *Store
	users    *user.Store
	tracker  Tracker
	delivery Deliverer
	notifier Notifier
	presence PresenceSource
	viewers  ViewerSource
	pool     *worker.Pool
	logger   *slog.Logger
}

func NewService(store *Store, users *user.Store, tracker Tracker, delivery Deliverer, notifier Notifier, presenceSource PresenceSource, viewers ViewerSource, pool *worker.Pool, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		users:    users,
		tracker:  tracker,
		delivery: delivery,
		notifier: notifier,
		presence: presenceSource,
		viewers:  viewers,
		pool:     pool,
		logger:   logger.With("component", "chat"),
	}
}

func (s *Service) SendMessage(ctx context.Context, senderID, recipientID, content string) (*MessageView, error) {
	content = strings.TrimSpace(content)
	if content == "" || len(content) > maxContentLength {
		return nil, shared.ErrValidation
	}
	if senderID == recipientID {
		return nil, shared.ErrValidation
	}

	sender, err := s.users.GetByID(ctx, senderID)
	if err != nil {
		return nil, err
	}
	recipientRole, err := s.users.GetRole(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	conv, err := s.store.FindOrCreateConversation(ctx, senderID, recipientID)
	if err != nil {
		return nil, err
	}
	msg, err := s.store.AppendMessage(ctx, conv.ID, senderID, content)
	if err != nil {
		return nil, err
	}

	view := &MessageView{Message: msg}
	if snap, err := s.presence.GetSnapshot(ctx, senderID); err == nil {
		view.SenderPresence = snap
	}

	// Everything past persistence is fire-and-forget and survives the
	// sender's disconnect.
	senderRole := sender.Role
	submitted := s.pool.Submit("chat.post_send", func(taskCtx context.Context) {
		s.tracker.TrackMessage(taskCtx, msg, recipientID, senderRole, recipientRole)

		event := &broadcast.Event{Type: broadcast.EventNewMessage, Payload: view}
		s.delivery.DeliverToUser(recipientID, event)
		s.delivery.DeliverToUser(senderID, event)

		// A recipient already viewing the conversation sees the message
		// arrive; no notification on top.
		if s.viewers.HasViewer(recipientID, conv.ID) {
			return
		}
		s.notifier.Dispatch(taskCtx, recipientID, "new_message", sender.Name, content, map[string]string{
			"conversation_id": conv.ID,
			"message_id":      msg.ID,
			"sender_id":       senderID,
		})
	})
	if !submitted {
		s.logger.Warn("post-send effects dropped", "message_id", msg.ID)
	}

	return view, nil
}

// GetConversations lists the user's conversations by recency, each with its
// latest message and the counterpart's presence snapshot.
func (s *Service) GetConversations(ctx context.Context, userID string) ([]*ConversationView, error) {
	conversations, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}

	views := make([]*ConversationView, 0, len(conversations))
	for _, conv := range conversations {
		view := &ConversationView{
			Conversation: conv,
			PartnerID:    conv.OtherParty(userID),
		}
		if last, err := s.store.LatestMessage(ctx, conv.ID); err == nil {
			view.LastMessage = last
		}
		if snap, err := s.presence.GetSnapshot(ctx, view.PartnerID); err == nil {
			view.PartnerPresence = snap
		}
		views = append(views, view)
	}
	return views, nil
}

// GetMessages returns the ascending history, optionally enriched with sender
// presence. Access is limited to participants.
func (s *Service) GetMessages(ctx context.Context, userID, conversationID string, withPresence bool) ([]*MessageView, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, shared.ErrForbidden
	}

	messages, err := s.store.GetMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	snapshots := make(map[string]*presence.Snapshot, 2)
	if withPresence {
		for _, participant := range []string{conv.UserOneID, conv.UserTwoID} {
			if snap, err := s.presence.GetSnapshot(ctx, participant); err == nil {
				snapshots[participant] = snap
			}
		}
	}

	views := make([]*MessageView, 0, len(messages))
	for _, msg := range messages {
		views = append(views, &MessageView{
			Message:        msg,
			SenderPresence: snapshots[msg.SenderID],
		})
	}
	return views, nil
}

// GetConversation checks membership before returning the row.
func (s *Service) GetConversation(ctx context.Context, userID, conversationID string) (*Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, shared.ErrForbidden
	}
	return conv, nil
}
