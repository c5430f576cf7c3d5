package broadcast

import (
	"context"
	"log/slog"

	"github.com/taskora/taskora-backend/internal/shared"
	"github.com/taskora/taskora-backend/internal/user"
)

// ContactLister is the slice of the chat store used for the default audience:
// users who already share a conversation with the subject.
type ContactLister interface {
	ListPartnerIDs(ctx context.Context, userID string) ([]string, error)
}

// Audience computes who may see a subject's presence events. The mutual-
// contact basis is always safe; the locality audience is an explicit opt-in
// on the subject and broadens visibility, so it stays off by default.
type Audience struct {
	contacts ContactLister
	users    *user.Store
	logger   *slog.Logger
}

func NewAudience(contacts ContactLister, users *user.Store, logger *slog.Logger) *Audience {
	return &Audience{
		contacts: contacts,
		users:    users,
		logger:   logger.With("component", "audience"),
	}
}

// Resolve returns the recipient set for the subject. Store failures degrade
// to an empty audience; resolution never fails the triggering action.
func (a *Audience) Resolve(ctx context.Context, subjectID string) []string {
	partners, err := a.contacts.ListPartnerIDs(ctx, subjectID)
	if err != nil {
		a.logger.Warn("audience resolution failed", "subject_id", subjectID, "error", err)
		return nil
	}

	seen := make(map[string]struct{}, len(partners))
	audience := make([]string, 0, len(partners))
	for _, id := range partners {
		if id == subjectID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		audience = append(audience, id)
	}

	subject, err := a.users.GetByID(ctx, subjectID)
	if err != nil {
		a.logger.Warn("subject lookup failed", "subject_id", subjectID, "error", err)
		return audience
	}
	if !subject.BroadcastToLocality || subject.City == "" {
		return audience
	}

	locals, err := a.users.ListByCityAndRole(ctx, subject.City, oppositeRole(subject.Role), subjectID)
	if err != nil {
		a.logger.Warn("locality audience lookup failed", "subject_id", subjectID, "error", err)
		return audience
	}
	for _, id := range locals {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		audience = append(audience, id)
	}
	return audience
}

func oppositeRole(r shared.Role) shared.Role {
	if r == shared.RoleClient {
		return shared.RoleProvider
	}
	return shared.RoleClient
}
