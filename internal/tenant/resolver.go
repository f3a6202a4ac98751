package tenant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mckuadrat/wa-broadcast/internal/config"
	"github.com/mckuadrat/wa-broadcast/internal/domain"
	"github.com/mckuadrat/wa-broadcast/internal/pkg/logger"
	"github.com/mckuadrat/wa-broadcast/internal/pkg/phone"
)

const tenantCacheTTL = time.Minute

type cachedTenant struct {
	t       *domain.Tenant
	expires time.Time
}

// Resolver implements the ordered resolution chain.
type Resolver struct {
	store      Store
	lister     PhoneNumberLister
	fallback   config.WhatsAppConfig
	strategies []Strategy

	cacheMu sync.RWMutex
	cache   map[string]cachedTenant
	now     func() time.Time
}

// NewResolver builds a resolver with the default strategy order. lister may
// be nil, in which case Identities only reports the context's own identity.
func NewResolver(store Store, lister PhoneNumberLister, fallback config.WhatsAppConfig) *Resolver {
	r := &Resolver{
		store:    store,
		lister:   lister,
		fallback: fallback,
		cache:    make(map[string]cachedTenant),
		now:      time.Now,
	}
	r.strategies = []Strategy{
		callerStrategy{r},
		mappingStrategy{r},
		tenantDefaultStrategy{r},
		deploymentStrategy{fallback},
	}
	return r
}

// Strategies returns the resolution order.
func (r *Resolver) Strategies() []Source {
	out := make([]Source, len(r.strategies))
	for i, s := range r.strategies {
		out[i] = s.Source()
	}
	return out
}

// Resolve returns the first context any strategy produces.
func (r *Resolver) Resolve(ctx context.Context, l Lookup) (*Context, error) {
	for _, s := range r.strategies {
		tc, ok, err := s.Resolve(ctx, l)
		if err != nil {
			return nil, err
		}
		if ok {
			if tc.AccessToken == "" {
				return nil, fmt.Errorf("%w: tenant %q has no access token", ErrNotConfigured, tc.TenantID)
			}
			return tc, nil
		}
	}
	return nil, ErrNotConfigured
}

// Identities lists the tenant's sending identities from the gateway and
// records them in the mapping table. Recording failures are logged only.
func (r *Resolver) Identities(ctx context.Context, tc *Context) ([]domain.SendingIdentity, error) {
	if r.lister == nil || tc.WABAID == "" {
		if tc.PhoneNumberID == "" {
			return nil, nil
		}
		return []domain.SendingIdentity{{ID: tc.PhoneNumberID, TenantID: tc.TenantID, DisplayPhone: tc.DisplayPhone}}, nil
	}

	numbers, err := r.lister.ListPhoneNumbers(ctx, tc.Credentials(), tc.WABAID)
	if err != nil {
		return nil, fmt.Errorf("list sending identities: %w", err)
	}
	ids := make([]domain.SendingIdentity, 0, len(numbers))
	for _, n := range numbers {
		ids = append(ids, domain.SendingIdentity{
			ID:           n.ID,
			TenantID:     tc.TenantID,
			DisplayPhone: n.DisplayPhoneNumber,
			VerifiedName: n.VerifiedName,
		})
	}
	if tc.TenantID != "" && len(ids) > 0 {
		if err := r.store.UpsertSendingIdentities(ctx, ids); err != nil {
			logger.Warn("tenant: caching sending identities failed", "tenant_id", tc.TenantID, "error", err)
		}
	}
	return ids, nil
}

// IdentityForAddress finds the sending identity whose display address matches
// addr, comparing digits only.
func (r *Resolver) IdentityForAddress(ctx context.Context, tc *Context, addr string) (*domain.SendingIdentity, error) {
	want := phone.Digits(addr)
	if want == "" {
		return nil, nil
	}
	ids, err := r.Identities(ctx, tc)
	if err != nil {
		return nil, err
	}
	for i := range ids {
		if phone.Digits(ids[i].DisplayPhone) == want {
			return &ids[i], nil
		}
	}
	return nil, nil
}

func (r *Resolver) tenant(ctx context.Context, id string) (*domain.Tenant, error) {
	r.cacheMu.RLock()
	c, ok := r.cache[id]
	r.cacheMu.RUnlock()
	if ok && r.now().Before(c.expires) {
		return c.t, nil
	}

	t, err := r.store.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cacheMu.Lock()
	r.cache[id] = cachedTenant{t: t, expires: r.now().Add(tenantCacheTTL)}
	r.cacheMu.Unlock()
	return t, nil
}
