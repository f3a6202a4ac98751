package broadcast_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mckuadrat/wa-broadcast/internal/dispatch"
	"github.com/mckuadrat/wa-broadcast/internal/domain"
	"github.com/mckuadrat/wa-broadcast/internal/service/broadcast"
	"github.com/mckuadrat/wa-broadcast/internal/templates"
	"github.com/mckuadrat/wa-broadcast/internal/tenant"
	"github.com/mckuadrat/wa-broadcast/internal/whatsapp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRepo is an in-memory broadcast repository for unit testing.
type memRepo struct {
	mu         sync.Mutex
	campaigns  map[string]*domain.Campaign
	recipients map[string][]domain.RecipientRecord
	outcomes   map[int64]domain.DeliveryOutcome
	nextID     int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		campaigns:  map[string]*domain.Campaign{},
		recipients: map[string][]domain.RecipientRecord{},
		outcomes:   map[int64]domain.DeliveryOutcome{},
	}
}

func (m *memRepo) CreateCampaign(_ context.Context, c *domain.Campaign, recs []domain.RecipientRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.campaigns[c.ID] = &cp
	for i := range recs {
		m.nextID++
		recs[i].ID = m.nextID
		recs[i].CampaignID = c.ID
	}
	m.recipients[c.ID] = append([]domain.RecipientRecord(nil), recs...)
	return nil
}

func (m *memRepo) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, broadcast.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memRepo) ListRecipients(_ context.Context, id string) ([]domain.RecipientRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.RecipientRecord(nil), m.recipients[id]...), nil
}

func (m *memRepo) RecordOutcome(_ context.Context, id int64, o domain.DeliveryOutcome, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[id] = o
	return nil
}

type fakeResolver struct {
	tc        *tenant.Context
	err       error
	lookups   []tenant.Lookup
	addresses map[string]*domain.SendingIdentity
}

func (f *fakeResolver) Resolve(_ context.Context, l tenant.Lookup) (*tenant.Context, error) {
	f.lookups = append(f.lookups, l)
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.tc
	return &cp, nil
}

func (f *fakeResolver) IdentityForAddress(_ context.Context, _ *tenant.Context, addr string) (*domain.SendingIdentity, error) {
	return f.addresses[addr], nil
}

type fakeDispatcher struct {
	mu        sync.Mutex
	templates []dispatch.TemplateRequest
	freeform  []dispatch.FreeformRequest
	from      []string
	fail      map[string]int
}

func (f *fakeDispatcher) SendTemplate(_ context.Context, tc *tenant.Context, req dispatch.TemplateRequest) (domain.DeliveryOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.templates = append(f.templates, req)
	f.from = append(f.from, tc.PhoneNumberID)
	if status, ok := f.fail[req.To]; ok {
		return domain.DeliveryOutcome{Phone: req.To, Status: status, Error: []byte(`{"error":{"code":131026}}`)}, nil
	}
	id := "wamid." + req.To
	return domain.DeliveryOutcome{Phone: req.To, OK: true, Status: 200, MessageID: &id}, nil
}

func (f *fakeDispatcher) SendFreeform(_ context.Context, tc *tenant.Context, req dispatch.FreeformRequest) (domain.DeliveryOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.freeform = append(f.freeform, req)
	return domain.DeliveryOutcome{Phone: req.To, OK: true, Status: 200}, nil
}

type fakeLister struct {
	templates []whatsapp.TemplateInfo
	err       error
	calls     int
}

func (f *fakeLister) ListTemplates(context.Context, whatsapp.Credentials, string, whatsapp.TemplateQuery) ([]whatsapp.TemplateInfo, error) {
	f.calls++
	return f.templates, f.err
}

func twoParamTemplate(header string) []whatsapp.TemplateInfo {
	comps := []whatsapp.TemplateComponent{{Type: "BODY", Text: "Halo {{1}}, kode {{2}}"}}
	if header != "" {
		comps = append(comps, whatsapp.TemplateComponent{Type: "HEADER", Format: header})
	}
	return []whatsapp.TemplateInfo{{Name: "promo", Language: "id", Status: "APPROVED", Components: comps}}
}

var now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc        *broadcast.Service
	repo       *memRepo
	resolver   *fakeResolver
	dispatcher *fakeDispatcher
	lister     *fakeLister
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo: newMemRepo(),
		resolver: &fakeResolver{tc: &tenant.Context{
			TenantID: "t1", WABAID: "waba-1", AccessToken: "tok",
			PhoneNumberID: "pn-1", DisplayPhone: "628111", TemplateLanguage: "en",
		}},
		dispatcher: &fakeDispatcher{},
		lister:     &fakeLister{templates: twoParamTemplate("")},
	}
	f.svc = broadcast.NewService(f.repo, f.resolver, templates.NewLookup(f.lister), f.dispatcher, broadcast.Settings{
		ImmediateWindow: 15 * time.Second,
		Location:        time.UTC,
		DefaultTrigger:  "yes",
		DefaultRegion:   "ID",
	})
	broadcast.SetClock(f.svc, func() time.Time { return now })
	return f
}

func rows(raw ...map[string]any) []broadcast.Row {
	return broadcast.ParseRows(raw, "ID")
}

func TestSubmit_ImmediateDispatch(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.fail = map[string]int{"6281200000002": 400}

	res, err := f.svc.Submit(context.Background(), broadcast.SubmitInput{
		Caller:       tenant.Lookup{UserID: "alice"},
		TemplateName: "promo",
		Rows: rows(
			map[string]any{"phone": "6281200000001", "var1": "Ridwan", "var2": "1234", "var3": "extra"},
			map[string]any{"phone": "0812-0000-0002", "var1": "Sari", "var2": "5678"},
			map[string]any{"phone": "6281200000003", "var1": "Budi"},
		),
	})
	require.NoError(t, err)

	assert.Equal(t, "ok", res.Status)
	assert.True(t, strings.HasPrefix(res.BroadcastID, "bc_"))
	assert.Equal(t, 3, res.Count)
	assert.Equal(t, 2, res.OK)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Results, 3)
	assert.Equal(t, 400, res.Results[1].Status)
	assert.False(t, res.Results[1].OK)

	// sent in order, params truncated to the template's count
	require.Len(t, f.dispatcher.templates, 3)
	assert.Equal(t, []string{"Ridwan", "1234"}, f.dispatcher.templates[0].Params)
	assert.Equal(t, "6281200000002", f.dispatcher.templates[1].To)
	assert.Equal(t, []string{"Budi"}, f.dispatcher.templates[2].Params)
	assert.Equal(t, "id", f.dispatcher.templates[0].Language)

	// metadata fetched once per dispatch
	assert.Equal(t, 1, f.lister.calls)

	c := f.repo.campaigns[res.BroadcastID]
	assert.Equal(t, domain.CampaignDispatched, c.Status)
	assert.Equal(t, "t1", c.TenantID)
	assert.Equal(t, "pn-1", c.SendingIdentity)
	assert.Len(t, f.repo.outcomes, 3)
	assert.Equal(t, []tenant.Lookup{{UserID: "alice"}}, f.resolver.lookups)
}

func TestSubmit_SkipsEmptyRows(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Submit(context.Background(), broadcast.SubmitInput{
		TemplateName: "promo",
		Rows: rows(
			map[string]any{"phone": "", "var1": ""},
			map[string]any{"phone": "6281200000001", "var1": "A"},
			map[string]any{},
		),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
}

func TestSubmit_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   broadcast.SubmitInput
	}{
		{"missing template", broadcast.SubmitInput{Rows: rows(map[string]any{"phone": "1"})}},
		{"no recipients", broadcast.SubmitInput{TemplateName: "promo"}},
		{"only empty rows", broadcast.SubmitInput{TemplateName: "promo", Rows: rows(map[string]any{})}},
		{"params without phone", broadcast.SubmitInput{TemplateName: "promo", Rows: rows(map[string]any{"var1": "A"})}},
		{"bad schedule", broadcast.SubmitInput{TemplateName: "promo", ScheduledAt: "next tuesday", Rows: rows(map[string]any{"phone": "1"})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Submit(context.Background(), tt.in)
			require.Error(t, err)
			assert.True(t, broadcast.IsValidation(err), "got %v", err)
			assert.Empty(t, f.repo.campaigns)
			assert.Empty(t, f.dispatcher.templates)
		})
	}
}

func TestSubmit_TenantNotConfigured(t *testing.T) {
	f := newFixture(t)
	f.resolver.err = tenant.ErrNotConfigured

	_, err := f.svc.Submit(context.Background(), broadcast.SubmitInput{
		TemplateName: "promo",
		Rows:         rows(map[string]any{"phone": "6281200000001"}),
	})
	require.Error(t, err)
	assert.True(t, broadcast.IsConfiguration(err))
	assert.False(t, broadcast.IsValidation(err))
	assert.Empty(t, f.repo.campaigns)
}

func TestSubmit_NoSendingIdentity(t *testing.T) {
	f := newFixture(t)
	f.resolver.tc.PhoneNumberID = ""

	_, err := f.svc.Submit(context.Background(), broadcast.SubmitInput{
		TemplateName: "promo",
		Rows:         rows(map[string]any{"phone": "6281200000001"}),
	})
	assert.ErrorIs(t, err, dispatch.ErrNoSendingIdentity)
	assert.True(t, broadcast.IsConfiguration(err))
}

func TestSubmit_ScheduleThreshold(t *testing.T) {
	tests := []struct {
		name       string
		at         string
		wantStatus string
	}{
		{"past", now.Add(-time.Hour).Format(time.RFC3339), "ok"},
		{"exactly at window", now.Add(15 * time.Second).Format(time.RFC3339), "ok"},
		{"just beyond window", now.Add(16 * time.Second).Format(time.RFC3339), "scheduled"},
		{"local time later today", "2026-03-10T17:30", "scheduled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			res, err := f.svc.Submit(context.Background(), broadcast.SubmitInput{
				TemplateName: "promo",
				ScheduledAt:  tt.at,
				Rows:         rows(map[string]any{"phone": "6281200000001", "var1": "A"}),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, res.Status)

			c := f.repo.campaigns[res.BroadcastID]
			if tt.wantStatus == "scheduled" {
				assert.Equal(t, domain.CampaignPendingSchedule, c.Status)
				assert.Empty(t, f.dispatcher.templates)
				assert.Equal(t, 1, res.Count)
				assert.Empty(t, res.Results)
				assert.NotNil(t, res.Results)
				assert.Empty(t, f.repo.outcomes)
			} else {
				assert.Equal(t, domain.CampaignDispatched, c.Status)
				assert.Len(t, f.dispatcher.templates, 1)
			}
		})
	}
}

func TestSubmit_SenderPhoneSelectsIdentity(t *testing.T) {
	f := newFixture(t)
	f.resolver.addresses = map[string]*domain.SendingIdentity{
		"+62 811-2": {ID: "pn-2", TenantID: "t1", DisplayPhone: "628112"},
	}

	res, err := f.svc.Submit(context.Background(), broadcast.SubmitInput{
		TemplateName: "promo",
		SenderPhone:  "+62 811-2",
		Rows:         rows(map[string]any{"phone": "6281200000001"}),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"pn-2"}, f.dispatcher.from)
	assert.Equal(t, "pn-2", f.repo.campaigns[res.BroadcastID].SendingIdentity)
	assert.Equal(t, "628112", f.repo.campaigns[res.BroadcastID].SenderPhone)
}

func TestSubmit_UnknownSenderKeepsDefault(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Submit(context.Background(), broadcast.SubmitInput{
		TemplateName: "promo",
		SenderPhone:  "62999",
		Rows:         rows(map[string]any{"phone": "6281200000001"}),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"pn-1"}, f.dispatcher.from)
}

func TestSubmit_MetadataFailureDefaults(t *testing.T) {
	f := newFixture(t)
	f.lister.err = errors.New("gateway unavailable")

	_, err := f.svc.Submit(context.Background(), broadcast.SubmitInput{
		TemplateName: "promo",
		Rows: rows(map[string]any{
			"phone": "6281200000001", "var1": "A",
			"follow_media": "https://cdn.example.com/photo.jpg",
		}),
	})
	require.NoError(t, err)
	req := f.dispatcher.templates[0]
	assert.Empty(t, req.Params)
	assert.Equal(t, "en", req.Language)
	require.NotNil(t, req.HeaderMedia)
	assert.Equal(t, domain.MediaDocument, req.HeaderMedia.Kind)
}

func TestSubmit_HeaderFollowsTemplateFormat(t *testing.T) {
	tests := []struct {
		header   string
		wantKind domain.MediaKind
		attached bool
	}{
		{"", "", false},
		{"TEXT", "", false},
		{"IMAGE", domain.MediaImage, true},
		{"DOCUMENT", domain.MediaDocument, true},
	}
	for _, tt := range tests {
		t.Run("header "+tt.header, func(t *testing.T) {
			f := newFixture(t)
			f.lister.templates = twoParamTemplate(tt.header)
			_, err := f.svc.Submit(context.Background(), broadcast.SubmitInput{
				TemplateName: "promo",
				Rows: rows(map[string]any{
					"phone": "6281200000001", "follow_media": "https://cdn.example.com/a.png",
				}),
			})
			require.NoError(t, err)
			req := f.dispatcher.templates[0]
			if !tt.attached {
				assert.Nil(t, req.HeaderMedia)
				return
			}
			require.NotNil(t, req.HeaderMedia)
			assert.Equal(t, tt.wantKind, req.HeaderMedia.Kind)
		})
	}
}

func TestSubmit_FollowupConfig(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Submit(context.Background(), broadcast.SubmitInput{
		TemplateName: "promo",
		ScheduledAt:  now.Add(time.Hour).Format(time.RFC3339),
		Rows:         rows(map[string]any{"phone": "6281200000001"}),
		Followup: &broadcast.FollowupInput{
			Text:        "Terima kasih {{1}}",
			StaticMedia: &domain.Media{Kind: "IMAGE", Link: "https://cdn.example.com/a.png"},
		},
	})
	require.NoError(t, err)

	fc := f.repo.campaigns[res.BroadcastID].Followup
	require.NotNil(t, fc)
	assert.Equal(t, "yes", fc.Trigger)
	assert.Equal(t, domain.MediaImage, fc.StaticMedia.Kind)
}

func TestSendCustom(t *testing.T) {
	f := newFixture(t)
	out, err := f.svc.SendCustom(context.Background(), broadcast.CustomInput{To: "0812-0000-0001", Text: "Halo"})
	require.NoError(t, err)
	assert.True(t, out.OK)
	require.Len(t, f.dispatcher.freeform, 1)
	assert.Equal(t, "6281200000001", f.dispatcher.freeform[0].To)
	assert.Nil(t, f.dispatcher.freeform[0].Media)

	_, err = f.svc.SendCustom(context.Background(), broadcast.CustomInput{Text: "Halo"})
	assert.True(t, broadcast.IsValidation(err))

	_, err = f.svc.SendCustom(context.Background(), broadcast.CustomInput{To: "6281", Media: &domain.Media{}})
	assert.True(t, broadcast.IsValidation(err))
}

func TestGetCampaign_TenantIsolation(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Submit(context.Background(), broadcast.SubmitInput{
		TemplateName: "promo",
		Rows:         rows(map[string]any{"phone": "6281200000001"}),
	})
	require.NoError(t, err)

	view, err := f.svc.GetCampaign(context.Background(), tenant.Lookup{}, res.BroadcastID)
	require.NoError(t, err)
	assert.Len(t, view.Recipients, 1)

	f.resolver.tc.TenantID = "t2"
	_, err = f.svc.GetCampaign(context.Background(), tenant.Lookup{}, res.BroadcastID)
	assert.ErrorIs(t, err, broadcast.ErrNotFound)
}

func TestNewCampaignID(t *testing.T) {
	a := broadcast.NewCampaignID(now)
	b := broadcast.NewCampaignID(now)
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "bc_"))
	assert.Less(t, broadcast.NewCampaignID(now)[:11], broadcast.NewCampaignID(now.Add(time.Hour))[:11])
}
