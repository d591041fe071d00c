package notifications

import (
	"context"

	"github.com/dshanske/wordpress-webmention/internal/models"
)

// NotificationInterface defines the contract for notification services
type NotificationInterface interface {
	NotifyMention(ctx context.Context, mention *models.Mention, permalink string) error
	NotifyExhausted(ctx context.Context, documentID string, tries int) error
}
