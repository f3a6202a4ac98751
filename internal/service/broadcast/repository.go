package broadcast

import (
	"context"
	"time"

	"github.com/mckuadrat/wa-broadcast/internal/domain"
)

// Repository persists campaigns and their recipient records.
type Repository interface {
	// CreateCampaign stores the campaign and its recipients atomically and
	// fills in each recipient's ID.
	CreateCampaign(ctx context.Context, c *domain.Campaign, recipients []domain.RecipientRecord) error
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	ListRecipients(ctx context.Context, campaignID string) ([]domain.RecipientRecord, error)
	// RecordOutcome stores the result of the one send attempt of a recipient.
	RecordOutcome(ctx context.Context, recipientID int64, o domain.DeliveryOutcome, at time.Time) error
}
