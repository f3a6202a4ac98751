package tenant_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mckuadrat/wa-broadcast/internal/config"
	"github.com/mckuadrat/wa-broadcast/internal/domain"
	"github.com/mckuadrat/wa-broadcast/internal/tenant"
	"github.com/mckuadrat/wa-broadcast/internal/whatsapp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu         sync.Mutex
	tenants    map[string]*domain.Tenant
	users      map[string]*domain.TenantUser
	identities map[string]*domain.SendingIdentity
	tenantGets int
}

func newMemStore() *memStore {
	return &memStore{
		tenants:    map[string]*domain.Tenant{},
		users:      map[string]*domain.TenantUser{},
		identities: map[string]*domain.SendingIdentity{},
	}
}

func (m *memStore) GetTenant(_ context.Context, id string) (*domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenantGets++
	t, ok := m.tenants[id]
	if !ok {
		return nil, tenant.ErrNotFound
	}
	return t, nil
}

func (m *memStore) GetTenantUser(_ context.Context, userID string) (*domain.TenantUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, tenant.ErrNotFound
	}
	return u, nil
}

func (m *memStore) GetSendingIdentity(_ context.Context, id string) (*domain.SendingIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	si, ok := m.identities[id]
	if !ok {
		return nil, tenant.ErrNotFound
	}
	return si, nil
}

func (m *memStore) FindTenantByDefaultIdentity(_ context.Context, id string) (*domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tenants {
		if t.DefaultPhoneNumberID == id {
			return t, nil
		}
	}
	return nil, tenant.ErrNotFound
}

func (m *memStore) UpsertSendingIdentities(_ context.Context, ids []domain.SendingIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range ids {
		si := ids[i]
		m.identities[si.ID] = &si
	}
	return nil
}

type fakeLister struct {
	numbers []whatsapp.PhoneNumber
	err     error
	calls   int
}

func (f *fakeLister) ListPhoneNumbers(_ context.Context, _ whatsapp.Credentials, _ string) ([]whatsapp.PhoneNumber, error) {
	f.calls++
	return f.numbers, f.err
}

var fallback = config.WhatsAppConfig{
	WABAID:           "waba-env",
	AccessToken:      "env-token",
	APIVersion:       "v20.0",
	PhoneNumberID:    "pn-env",
	DisplayPhone:     "628000000000",
	TemplateLanguage: "en",
}

func seed() *memStore {
	s := newMemStore()
	s.tenants["t1"] = &domain.Tenant{
		ID: "t1", WABAID: "waba-1", AccessToken: "tok-1", TemplateLanguage: "id",
		DefaultPhoneNumberID: "pn-1", DefaultDisplayPhone: "628111",
	}
	s.tenants["t2"] = &domain.Tenant{
		ID: "t2", WABAID: "waba-2", AccessToken: "tok-2", APIVersion: "v21.0",
		DefaultPhoneNumberID: "pn-2",
	}
	s.users["alice"] = &domain.TenantUser{UserID: "alice", TenantID: "t1"}
	s.users["bob"] = &domain.TenantUser{UserID: "bob", TenantID: "t2", PhoneNumberID: "pn-2b"}
	s.identities["pn-1b"] = &domain.SendingIdentity{ID: "pn-1b", TenantID: "t1", DisplayPhone: "628112"}
	return s
}

func TestResolver_Order(t *testing.T) {
	r := tenant.NewResolver(newMemStore(), nil, fallback)
	assert.Equal(t, []tenant.Source{
		tenant.SourceCaller, tenant.SourceMapping, tenant.SourceTenantDefault, tenant.SourceDeployment,
	}, r.Strategies())
}

func TestResolver_Resolve(t *testing.T) {
	tests := []struct {
		name       string
		lookup     tenant.Lookup
		wantTenant string
		wantPhone  string
		wantSource tenant.Source
		wantToken  string
	}{
		{"caller uses tenant default identity", tenant.Lookup{UserID: "alice"}, "t1", "pn-1", tenant.SourceCaller, "tok-1"},
		{"caller pinned identity", tenant.Lookup{UserID: "bob"}, "t2", "pn-2b", tenant.SourceCaller, "tok-2"},
		{"caller explicit identity wins", tenant.Lookup{UserID: "alice", PhoneNumberID: "pn-1b"}, "t1", "pn-1b", tenant.SourceCaller, "tok-1"},
		{"explicit tenant id", tenant.Lookup{TenantID: "t2"}, "t2", "pn-2", tenant.SourceCaller, "tok-2"},
		{"mapping table", tenant.Lookup{PhoneNumberID: "pn-1b"}, "t1", "pn-1b", tenant.SourceMapping, "tok-1"},
		{"tenant default key", tenant.Lookup{PhoneNumberID: "pn-2"}, "t2", "pn-2", tenant.SourceTenantDefault, "tok-2"},
		{"unknown caller falls through", tenant.Lookup{UserID: "mallory"}, "", "pn-env", tenant.SourceDeployment, "env-token"},
		{"unknown key uses deployment", tenant.Lookup{PhoneNumberID: "pn-x"}, "", "pn-x", tenant.SourceDeployment, "env-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tenant.NewResolver(seed(), nil, fallback)
			tc, err := r.Resolve(context.Background(), tt.lookup)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTenant, tc.TenantID)
			assert.Equal(t, tt.wantPhone, tc.PhoneNumberID)
			assert.Equal(t, tt.wantSource, tc.Source)
			assert.Equal(t, tt.wantToken, tc.AccessToken)
		})
	}
}

func TestResolver_InheritsDeploymentDefaults(t *testing.T) {
	r := tenant.NewResolver(seed(), nil, fallback)

	tc, err := r.Resolve(context.Background(), tenant.Lookup{TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, "v20.0", tc.APIVersion)
	assert.Equal(t, "id", tc.TemplateLanguage)
	assert.Equal(t, "628111", tc.DisplayPhone)

	tc, err = r.Resolve(context.Background(), tenant.Lookup{TenantID: "t2"})
	require.NoError(t, err)
	assert.Equal(t, "v21.0", tc.APIVersion)
	assert.Equal(t, "en", tc.TemplateLanguage)
}

func TestResolver_NotConfigured(t *testing.T) {
	r := tenant.NewResolver(newMemStore(), nil, config.WhatsAppConfig{})
	_, err := r.Resolve(context.Background(), tenant.Lookup{UserID: "alice", PhoneNumberID: "pn-1"})
	assert.ErrorIs(t, err, tenant.ErrNotConfigured)
}

func TestResolver_RejectsForeignIdentity(t *testing.T) {
	store := seed()
	store.identities["pn-2"] = &domain.SendingIdentity{ID: "pn-2", TenantID: "t2"}
	r := tenant.NewResolver(store, nil, fallback)

	_, err := r.Resolve(context.Background(), tenant.Lookup{UserID: "alice", PhoneNumberID: "pn-2"})
	assert.ErrorIs(t, err, tenant.ErrNotConfigured)
}

func TestResolver_CallerTenantMismatch(t *testing.T) {
	r := tenant.NewResolver(seed(), nil, fallback)
	_, err := r.Resolve(context.Background(), tenant.Lookup{UserID: "alice", TenantID: "t2"})
	assert.ErrorIs(t, err, tenant.ErrNotConfigured)
}

func TestResolver_TenantWithoutTokenIsNotConfigured(t *testing.T) {
	store := seed()
	store.tenants["t3"] = &domain.Tenant{ID: "t3", WABAID: "waba-3"}
	r := tenant.NewResolver(store, nil, fallback)

	_, err := r.Resolve(context.Background(), tenant.Lookup{TenantID: "t3"})
	assert.ErrorIs(t, err, tenant.ErrNotConfigured)
}

func TestResolver_CachesTenantRecords(t *testing.T) {
	store := seed()
	r := tenant.NewResolver(store, nil, fallback)
	for i := 0; i < 3; i++ {
		_, err := r.Resolve(context.Background(), tenant.Lookup{TenantID: "t1"})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, store.tenantGets)
}

func TestResolver_StoreErrorAborts(t *testing.T) {
	r := tenant.NewResolver(&failingStore{memStore: seed()}, nil, fallback)
	_, err := r.Resolve(context.Background(), tenant.Lookup{UserID: "alice"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, tenant.ErrNotConfigured)
}

type failingStore struct{ *memStore }

func (f *failingStore) GetTenantUser(context.Context, string) (*domain.TenantUser, error) {
	return nil, errors.New("connection reset")
}

func TestIdentities_DiscoversAndCaches(t *testing.T) {
	store := seed()
	lister := &fakeLister{numbers: []whatsapp.PhoneNumber{
		{ID: "pn-1", DisplayPhoneNumber: "+62 811-1"},
		{ID: "pn-1c", DisplayPhoneNumber: "+62 811-3", VerifiedName: "Toko"},
	}}
	r := tenant.NewResolver(store, lister, fallback)
	tc, err := r.Resolve(context.Background(), tenant.Lookup{TenantID: "t1"})
	require.NoError(t, err)

	ids, err := r.Identities(context.Background(), tc)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Equal(t, 1, lister.calls)

	// discovered identity now resolves through the mapping table
	tc2, err := r.Resolve(context.Background(), tenant.Lookup{PhoneNumberID: "pn-1c"})
	require.NoError(t, err)
	assert.Equal(t, "t1", tc2.TenantID)
	assert.Equal(t, tenant.SourceMapping, tc2.Source)
}

func TestIdentityForAddress(t *testing.T) {
	lister := &fakeLister{numbers: []whatsapp.PhoneNumber{
		{ID: "pn-1", DisplayPhoneNumber: "+62 811-1"},
		{ID: "pn-1c", DisplayPhoneNumber: "+62 811-3"},
	}}
	r := tenant.NewResolver(seed(), lister, fallback)
	tc, err := r.Resolve(context.Background(), tenant.Lookup{TenantID: "t1"})
	require.NoError(t, err)

	si, err := r.IdentityForAddress(context.Background(), tc, "628113")
	require.NoError(t, err)
	require.NotNil(t, si)
	assert.Equal(t, "pn-1c", si.ID)

	si, err = r.IdentityForAddress(context.Background(), tc, "62999")
	require.NoError(t, err)
	assert.Nil(t, si)
}

func TestIdentities_WithoutLister(t *testing.T) {
	r := tenant.NewResolver(seed(), nil, fallback)
	tc, err := r.Resolve(context.Background(), tenant.Lookup{})
	require.NoError(t, err)

	ids, err := r.Identities(context.Background(), tc)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, "pn-env", ids[0].ID)
}
