package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mckuadrat/wa-broadcast/internal/domain"
	"github.com/mckuadrat/wa-broadcast/internal/service/broadcast"
)

const campaignColumns = `
	id, COALESCE(tenant_id,''), created_at, scheduled_at, status, template_name,
	COALESCE(sender_phone,''), COALESCE(sending_identity,''), followup_config`

const recipientColumns = `
	id, campaign_id, phone, vars_json, COALESCE(follow_media,''), COALESCE(follow_media_filename,''),
	ok, http_status, message_id, error, attempted_at`

// CampaignRepo implements broadcast.Repository and the scheduled runner's
// store against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign store.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

// CreateCampaign inserts the campaign and its recipients in one transaction.
func (r *CampaignRepo) CreateCampaign(ctx context.Context, c *domain.Campaign, recipients []domain.RecipientRecord) error {
	followup, err := marshalNullable(c.Followup)
	if err != nil {
		return fmt.Errorf("encode followup config: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO broadcast_campaigns
			(id, tenant_id, created_at, scheduled_at, status, template_name,
			 sender_phone, sending_identity, followup_enabled, followup_config)
		VALUES ($1, NULLIF($2,''), $3, $4, $5, $6, NULLIF($7,''), NULLIF($8,''), $9, $10)
	`, c.ID, c.TenantID, c.CreatedAt, c.ScheduledAt, string(c.Status), c.TemplateName,
		c.SenderPhone, c.SendingIdentity, c.FollowupEnabled(), followup)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}

	for i := range recipients {
		rec := &recipients[i]
		vars, err := json.Marshal(rec.Params.Map())
		if err != nil {
			return fmt.Errorf("encode vars: %w", err)
		}
		var link, filename string
		if rec.FollowMedia != nil {
			link, filename = rec.FollowMedia.Link, rec.FollowMedia.Filename
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO broadcast_recipients
				(campaign_id, phone, vars_json, follow_media, follow_media_filename)
			VALUES ($1, $2, $3, NULLIF($4,''), NULLIF($5,''))
			RETURNING id
		`, c.ID, rec.Phone, string(vars), link, filename).Scan(&rec.ID)
		if err != nil {
			return fmt.Errorf("insert recipient %d: %w", i, err)
		}
		rec.CampaignID = c.ID
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *CampaignRepo) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM broadcast_campaigns WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, broadcast.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

// ListRecipients returns every recipient of a campaign in insertion order.
func (r *CampaignRepo) ListRecipients(ctx context.Context, campaignID string) ([]domain.RecipientRecord, error) {
	return r.queryRecipients(ctx, `
		SELECT `+recipientColumns+`
		FROM broadcast_recipients
		WHERE campaign_id = $1
		ORDER BY id
	`, campaignID)
}

// ListPendingRecipients returns the recipients that have not been attempted.
func (r *CampaignRepo) ListPendingRecipients(ctx context.Context, campaignID string) ([]domain.RecipientRecord, error) {
	return r.queryRecipients(ctx, `
		SELECT `+recipientColumns+`
		FROM broadcast_recipients
		WHERE campaign_id = $1 AND attempted_at IS NULL
		ORDER BY id
	`, campaignID)
}

func (r *CampaignRepo) RecordOutcome(ctx context.Context, recipientID int64, o domain.DeliveryOutcome, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE broadcast_recipients
		SET ok = $2, http_status = $3, message_id = $4, error = $5, attempted_at = $6
		WHERE id = $1
	`, recipientID, o.OK, o.Status, o.MessageID, nullJSON(o.Error), at)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// ListDue returns pending campaigns whose scheduled time has passed, oldest
// first.
func (r *CampaignRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+campaignColumns+`
		FROM broadcast_campaigns
		WHERE status = $1 AND scheduled_at <= $2
		ORDER BY scheduled_at
		LIMIT $3
	`, string(domain.CampaignPendingSchedule), now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// MarkDispatched moves a pending campaign to dispatched. It reports false
// when the campaign was not pending, so concurrent runners cannot both
// claim it.
func (r *CampaignRepo) MarkDispatched(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE broadcast_campaigns SET status = $1
		WHERE id = $2 AND status = $3
	`, string(domain.CampaignDispatched), id, string(domain.CampaignPendingSchedule))
	if err != nil {
		return false, fmt.Errorf("mark dispatched: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *CampaignRepo) queryRecipients(ctx context.Context, q string, args ...any) ([]domain.RecipientRecord, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	var out []domain.RecipientRecord
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

// campaignRow holds the scan targets of campaignColumns.
type campaignRow struct {
	c         domain.Campaign
	status    string
	scheduled sql.NullTime
	followup  []byte
}

func (cr *campaignRow) dest() []any {
	return []any{&cr.c.ID, &cr.c.TenantID, &cr.c.CreatedAt, &cr.scheduled, &cr.status,
		&cr.c.TemplateName, &cr.c.SenderPhone, &cr.c.SendingIdentity, &cr.followup}
}

func (cr *campaignRow) campaign() (*domain.Campaign, error) {
	c := cr.c
	c.Status = domain.CampaignStatus(cr.status)
	if cr.scheduled.Valid {
		t := cr.scheduled.Time
		c.ScheduledAt = &t
	}
	if len(cr.followup) > 0 && string(cr.followup) != "null" {
		c.Followup = &domain.FollowupConfig{}
		if err := json.Unmarshal(cr.followup, c.Followup); err != nil {
			return nil, fmt.Errorf("decode followup config: %w", err)
		}
	}
	return &c, nil
}

func scanCampaign(s scanner) (*domain.Campaign, error) {
	var cr campaignRow
	if err := s.Scan(cr.dest()...); err != nil {
		return nil, err
	}
	return cr.campaign()
}

// recipientRow holds the scan targets of recipientColumns.
type recipientRow struct {
	rec       domain.RecipientRecord
	vars      []byte
	link      string
	filename  string
	ok        sql.NullBool
	status    sql.NullInt64
	messageID sql.NullString
	errBody   []byte
	attempted sql.NullTime
}

func (rr *recipientRow) dest() []any {
	return []any{&rr.rec.ID, &rr.rec.CampaignID, &rr.rec.Phone, &rr.vars, &rr.link, &rr.filename,
		&rr.ok, &rr.status, &rr.messageID, &rr.errBody, &rr.attempted}
}

func (rr *recipientRow) record() (*domain.RecipientRecord, error) {
	rec := rr.rec
	if len(rr.vars) > 0 {
		m := map[string]string{}
		if err := json.Unmarshal(rr.vars, &m); err != nil {
			return nil, fmt.Errorf("decode vars: %w", err)
		}
		rec.Params = domain.ParamsFromMap(m)
	}
	if rr.link != "" {
		rec.FollowMedia = &domain.Media{Kind: domain.MediaDocument, Link: rr.link, Filename: rr.filename}
	}
	if rr.attempted.Valid {
		t := rr.attempted.Time
		rec.AttemptedAt = &t
		out := &domain.DeliveryOutcome{Phone: rec.Phone, OK: rr.ok.Bool, Status: int(rr.status.Int64)}
		if rr.messageID.Valid {
			id := rr.messageID.String
			out.MessageID = &id
		}
		if len(rr.errBody) > 0 {
			out.Error = json.RawMessage(rr.errBody)
		}
		rec.Outcome = out
	}
	return &rec, nil
}

func scanRecipient(s scanner) (*domain.RecipientRecord, error) {
	var rr recipientRow
	if err := s.Scan(rr.dest()...); err != nil {
		return nil, err
	}
	return rr.record()
}

// marshalNullable encodes v as JSON text, or SQL NULL when v is a nil pointer.
func marshalNullable[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
