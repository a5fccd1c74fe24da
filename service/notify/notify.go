package notify

import (
	"context"

	"IMCore/service/storage"
)

// Notifier is the offline-delivery collaborator. The dispatch pipeline
// fires it when a persisted message has no live recipient connection;
// push delivery to devices is entirely the collaborator's problem.
type Notifier interface {
	MessageStored(ctx context.Context, rec *storage.MessageRecord) error
}

// Noop is used when no broker is configured.
type Noop struct{}

func (Noop) MessageStored(context.Context, *storage.MessageRecord) error { return nil }
