package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mckuadrat/wa-broadcast/internal/domain"
	"github.com/mckuadrat/wa-broadcast/internal/tenant"
)

const tenantColumns = `
	id, COALESCE(name,''), COALESCE(waba_id,''), COALESCE(access_token,''),
	COALESCE(api_version,''), COALESCE(template_language,''),
	COALESCE(default_phone_number_id,''), COALESCE(default_display_phone,''), created_at`

// TenantRepo implements tenant.Store.
type TenantRepo struct{ db *sql.DB }

// NewTenantRepo creates a Postgres-backed tenant store.
func NewTenantRepo(db *sql.DB) *TenantRepo { return &TenantRepo{db: db} }

func (r *TenantRepo) GetTenant(ctx context.Context, id string) (*domain.Tenant, error) {
	return r.queryTenant(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
}

// FindTenantByDefaultIdentity returns the tenant whose default sending
// identity is phoneNumberID.
func (r *TenantRepo) FindTenantByDefaultIdentity(ctx context.Context, phoneNumberID string) (*domain.Tenant, error) {
	return r.queryTenant(ctx, `
		SELECT `+tenantColumns+` FROM tenants
		WHERE default_phone_number_id = $1
		ORDER BY created_at
		LIMIT 1
	`, phoneNumberID)
}

func (r *TenantRepo) queryTenant(ctx context.Context, q string, arg string) (*domain.Tenant, error) {
	t := &domain.Tenant{}
	err := r.db.QueryRowContext(ctx, q, arg).Scan(
		&t.ID, &t.Name, &t.WABAID, &t.AccessToken,
		&t.APIVersion, &t.TemplateLanguage,
		&t.DefaultPhoneNumberID, &t.DefaultDisplayPhone, &t.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tenant.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

func (r *TenantRepo) GetTenantUser(ctx context.Context, userID string) (*domain.TenantUser, error) {
	u := &domain.TenantUser{}
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, tenant_id, COALESCE(phone_number_id,'')
		FROM tenant_users WHERE user_id = $1
	`, userID).Scan(&u.UserID, &u.TenantID, &u.PhoneNumberID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tenant.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant user: %w", err)
	}
	return u, nil
}

func (r *TenantRepo) GetSendingIdentity(ctx context.Context, phoneNumberID string) (*domain.SendingIdentity, error) {
	si := &domain.SendingIdentity{}
	err := r.db.QueryRowContext(ctx, `
		SELECT phone_number_id, tenant_id, COALESCE(display_phone,''), COALESCE(verified_name,'')
		FROM sending_identities WHERE phone_number_id = $1
	`, phoneNumberID).Scan(&si.ID, &si.TenantID, &si.DisplayPhone, &si.VerifiedName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tenant.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sending identity: %w", err)
	}
	return si, nil
}

// UpsertSendingIdentities refreshes the identity-to-tenant mapping. An
// identity moved to another business account is re-pointed.
func (r *TenantRepo) UpsertSendingIdentities(ctx context.Context, ids []domain.SendingIdentity) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, si := range ids {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sending_identities (phone_number_id, tenant_id, display_phone, verified_name, updated_at)
			VALUES ($1, $2, $3, NULLIF($4,''), NOW())
			ON CONFLICT (phone_number_id) DO UPDATE SET
				tenant_id = EXCLUDED.tenant_id,
				display_phone = EXCLUDED.display_phone,
				verified_name = EXCLUDED.verified_name,
				updated_at = NOW()
		`, si.ID, si.TenantID, si.DisplayPhone, si.VerifiedName)
		if err != nil {
			return fmt.Errorf("upsert sending identity %s: %w", si.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
