package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/mckuadrat/wa-broadcast/internal/config"
	"github.com/mckuadrat/wa-broadcast/internal/domain"
)

// Strategy is one step of the resolution chain. ok=false passes to the next
// step; an error aborts the chain.
type Strategy interface {
	Source() Source
	Resolve(ctx context.Context, l Lookup) (tc *Context, ok bool, err error)
}

// callerStrategy resolves the authenticated caller or an explicit tenant id.
type callerStrategy struct{ r *Resolver }

func (s callerStrategy) Source() Source { return SourceCaller }

func (s callerStrategy) Resolve(ctx context.Context, l Lookup) (*Context, bool, error) {
	tenantID := l.TenantID
	pinned := ""
	if l.UserID != "" {
		u, err := s.r.store.GetTenantUser(ctx, l.UserID)
		switch {
		case err == nil:
			if tenantID != "" && tenantID != u.TenantID {
				return nil, false, fmt.Errorf("%w: caller %s does not belong to tenant %s", ErrNotConfigured, l.UserID, tenantID)
			}
			tenantID = u.TenantID
			pinned = u.PhoneNumberID
		case !errors.Is(err, ErrNotFound):
			return nil, false, fmt.Errorf("resolve caller: %w", err)
		}
	}
	if tenantID == "" {
		return nil, false, nil
	}

	t, err := s.r.tenant(ctx, tenantID)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	identity := firstNonEmpty(l.PhoneNumberID, pinned, t.DefaultPhoneNumberID)
	if l.PhoneNumberID != "" {
		// a caller-chosen identity must not belong to another tenant
		si, err := s.r.store.GetSendingIdentity(ctx, l.PhoneNumberID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, false, fmt.Errorf("resolve identity: %w", err)
		}
		if si != nil && si.TenantID != t.ID {
			return nil, false, fmt.Errorf("%w: sending identity %s belongs to another tenant", ErrNotConfigured, l.PhoneNumberID)
		}
	}
	return s.r.fromTenant(t, identity, SourceCaller), true, nil
}

// mappingStrategy resolves a sending identity through the mapping table.
type mappingStrategy struct{ r *Resolver }

func (s mappingStrategy) Source() Source { return SourceMapping }

func (s mappingStrategy) Resolve(ctx context.Context, l Lookup) (*Context, bool, error) {
	if l.PhoneNumberID == "" {
		return nil, false, nil
	}
	si, err := s.r.store.GetSendingIdentity(ctx, l.PhoneNumberID)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("resolve mapping: %w", err)
	}
	t, err := s.r.tenant(ctx, si.TenantID)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	tc := s.r.fromTenant(t, si.ID, SourceMapping)
	if si.DisplayPhone != "" {
		tc.DisplayPhone = si.DisplayPhone
	}
	return tc, true, nil
}

// tenantDefaultStrategy matches the key against tenants' default identity.
type tenantDefaultStrategy struct{ r *Resolver }

func (s tenantDefaultStrategy) Source() Source { return SourceTenantDefault }

func (s tenantDefaultStrategy) Resolve(ctx context.Context, l Lookup) (*Context, bool, error) {
	if l.PhoneNumberID == "" {
		return nil, false, nil
	}
	t, err := s.r.store.FindTenantByDefaultIdentity(ctx, l.PhoneNumberID)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("resolve tenant default: %w", err)
	}
	return s.r.fromTenant(t, l.PhoneNumberID, SourceTenantDefault), true, nil
}

// deploymentStrategy is the single-tenant fallback from configuration.
type deploymentStrategy struct{ cfg config.WhatsAppConfig }

func (s deploymentStrategy) Source() Source { return SourceDeployment }

func (s deploymentStrategy) Resolve(_ context.Context, l Lookup) (*Context, bool, error) {
	if !s.cfg.Configured() {
		return nil, false, nil
	}
	identity := firstNonEmpty(l.PhoneNumberID, s.cfg.PhoneNumberID)
	display := ""
	if identity == s.cfg.PhoneNumberID {
		display = s.cfg.DisplayPhone
	}
	return &Context{
		WABAID:           s.cfg.WABAID,
		AccessToken:      s.cfg.AccessToken,
		APIVersion:       s.cfg.APIVersion,
		TemplateLanguage: s.cfg.TemplateLanguage,
		PhoneNumberID:    identity,
		DisplayPhone:     display,
		Source:           SourceDeployment,
	}, true, nil
}

func (r *Resolver) fromTenant(t *domain.Tenant, identity string, src Source) *Context {
	tc := &Context{
		TenantID:         t.ID,
		WABAID:           t.WABAID,
		AccessToken:      t.AccessToken,
		APIVersion:       firstNonEmpty(t.APIVersion, r.fallback.APIVersion),
		TemplateLanguage: firstNonEmpty(t.TemplateLanguage, r.fallback.TemplateLanguage),
		PhoneNumberID:    identity,
		Source:           src,
	}
	if identity == t.DefaultPhoneNumberID {
		tc.DisplayPhone = t.DefaultDisplayPhone
	}
	return tc
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
