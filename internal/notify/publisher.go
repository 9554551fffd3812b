// Package notify creates the user-visible notification records lifecycle
// and backup events produce, persisting them through storage.Store and
// fanning them out on the event bus.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/obsidianmc/controlplane/internal/ctlerrors"
	"github.com/obsidianmc/controlplane/internal/events"
	"github.com/obsidianmc/controlplane/internal/models"
	"github.com/obsidianmc/controlplane/internal/storage"
)

// Publisher is the single writer of models.Notification rows.
type Publisher struct {
	store storage.Store
	bus   *events.Bus
}

// NewPublisher builds a Publisher over store, fanning every published
// notification out on bus.
func NewPublisher(store storage.Store, bus *events.Bus) *Publisher {
	return &Publisher{store: store, bus: bus}
}

// Publish persists a notification and emits events.KindNotification.
// actions must be a valid combination of the known NotificationAction bits;
// anything else is rejected with ErrPolicyViolation rather than silently
// stored with unrecognized bits set.
func (p *Publisher) Publish(ctx context.Context, title, message string, kind models.NotificationKind, actions models.NotificationAction, referencedServer string) (*models.Notification, error) {
	if !actions.Valid() {
		return nil, ctlerrors.Wrap(ctlerrors.ErrPolicyViolation, "unrecognized notification action bits", nil)
	}

	n := &models.Notification{
		ID:               uuid.NewString(),
		Title:            title,
		Message:          message,
		Kind:             kind,
		Actions:          actions,
		ReferencedServer: referencedServer,
	}
	if err := p.store.CreateNotification(ctx, n); err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.ErrIO, "persisting notification", err)
	}

	p.bus.Publish(events.Event{
		Kind:           events.KindNotification,
		ServerID:       referencedServer,
		Timestamp:      time.Now(),
		NotificationID: n.ID,
	})
	return n, nil
}
