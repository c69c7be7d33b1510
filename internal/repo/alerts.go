package repo

import (
	"context"
	"time"
)

// AlertRecord holds the last status we saw for a subject ("health" or
// "backup") and the last time a notification went out for it (cooldown).
type AlertRecord struct {
	Subject    string
	LastStatus string
	LastSentAt *time.Time
}

// AlertStore is implemented by a persistence layer to store alert state.
type AlertStore interface {
	// GetAlert returns nil, nil if there's no record yet.
	GetAlert(ctx context.Context, subject string) (*AlertRecord, error)
	// SetAlert upserts the record. If sentAt.IsZero() we store no send time.
	SetAlert(ctx context.Context, subject, lastStatus string, sentAt time.Time) error
}
