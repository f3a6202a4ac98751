package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mckuadrat/wa-broadcast/internal/domain"
	"github.com/mckuadrat/wa-broadcast/internal/service/followup"
)

// InboundRepo implements followup.Store.
type InboundRepo struct{ db *sql.DB }

// NewInboundRepo creates a Postgres-backed inbound store.
func NewInboundRepo(db *sql.DB) *InboundRepo { return &InboundRepo{db: db} }

func (r *InboundRepo) InsertInboundEvent(ctx context.Context, e *domain.InboundEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO inbound_events
			(id, received_at, phone, type, text, raw_payload, campaign_id, is_quick_reply, sending_identity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9,''))
	`, e.ID, e.ReceivedAt, e.Phone, e.Type, e.Text, nullJSON(e.RawPayload), e.CampaignID,
		e.IsQuickReply, e.SendingIdentity)
	if err != nil {
		return fmt.Errorf("insert inbound event: %w", err)
	}
	return nil
}

// FindCorrelation returns the newest campaign that has phone as a recipient.
// Ties on created_at go to the latest recipient row.
func (r *InboundRepo) FindCorrelation(ctx context.Context, phone, sendingIdentity string) (*domain.Campaign, *domain.RecipientRecord, error) {
	q := `
		SELECT c.id, COALESCE(c.tenant_id,''), c.created_at, c.scheduled_at, c.status, c.template_name,
		       COALESCE(c.sender_phone,''), COALESCE(c.sending_identity,''), c.followup_config,
		       r.id, r.campaign_id, r.phone, r.vars_json,
		       COALESCE(r.follow_media,''), COALESCE(r.follow_media_filename,''),
		       r.ok, r.http_status, r.message_id, r.error, r.attempted_at
		FROM broadcast_recipients r
		JOIN broadcast_campaigns c ON c.id = r.campaign_id
		WHERE r.phone = $1`
	args := []any{phone}
	if sendingIdentity != "" {
		q += ` AND c.sending_identity = $2`
		args = append(args, sendingIdentity)
	}
	q += ` ORDER BY c.created_at DESC, r.id DESC LIMIT 1`

	var (
		cr campaignRow
		rr recipientRow
	)
	err := r.db.QueryRowContext(ctx, q, args...).Scan(append(cr.dest(), rr.dest()...)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, followup.ErrNoCorrelation
	}
	if err != nil {
		return nil, nil, fmt.Errorf("find correlation: %w", err)
	}
	c, err := cr.campaign()
	if err != nil {
		return nil, nil, err
	}
	rec, err := rr.record()
	if err != nil {
		return nil, nil, err
	}
	return c, rec, nil
}

func (r *InboundRepo) InsertFollowupOutcome(ctx context.Context, o *domain.FollowupOutcome) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO followup_outcomes
			(id, campaign_id, phone, text, has_media, media_link, status, http_status, message_id, error, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6,''), $7, $8, $9, $10, $11)
	`, o.ID, o.CampaignID, o.Phone, o.Text, o.HasMedia, o.MediaLink, string(o.Status),
		o.HTTPStatus, o.MessageID, nullJSON(o.Error), o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert followup outcome: %w", err)
	}
	return nil
}
