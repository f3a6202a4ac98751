package tenant

import (
	"context"
	"errors"

	"github.com/mckuadrat/wa-broadcast/internal/domain"
	"github.com/mckuadrat/wa-broadcast/internal/whatsapp"
)

var (
	// ErrNotConfigured means no strategy produced usable credentials.
	ErrNotConfigured = errors.New("tenant not configured")
	// ErrNotFound is returned by a Store when a row does not exist.
	ErrNotFound = errors.New("tenant record not found")
)

// Source names the strategy that produced a Context.
type Source string

const (
	SourceCaller        Source = "caller"
	SourceMapping       Source = "mapping"
	SourceTenantDefault Source = "tenant_default"
	SourceDeployment    Source = "deployment"
)

// Context is everything an operation needs to talk to the gateway on behalf
// of one tenant.
type Context struct {
	TenantID         string
	WABAID           string
	AccessToken      string
	APIVersion       string
	TemplateLanguage string
	// PhoneNumberID is the effective sending identity. It may be empty when
	// the tenant has no default and the caller named none.
	PhoneNumberID string
	DisplayPhone  string
	Source        Source
}

// Credentials returns the gateway credentials of the context.
func (c *Context) Credentials() whatsapp.Credentials {
	return whatsapp.Credentials{AccessToken: c.AccessToken, APIVersion: c.APIVersion}
}

// WithIdentity returns a copy bound to another sending identity.
func (c *Context) WithIdentity(phoneNumberID, displayPhone string) *Context {
	cp := *c
	cp.PhoneNumberID = phoneNumberID
	cp.DisplayPhone = displayPhone
	return &cp
}

// Lookup is the input of a resolution. Any field may be empty.
type Lookup struct {
	// UserID is the authenticated caller.
	UserID string
	// TenantID is an explicit tenant selection.
	TenantID string
	// PhoneNumberID is a sending identity key: a caller-chosen identity on
	// outbound requests, or the destination identity of an inbound event.
	PhoneNumberID string
}

// Store reads the tenant tables.
type Store interface {
	GetTenant(ctx context.Context, id string) (*domain.Tenant, error)
	GetTenantUser(ctx context.Context, userID string) (*domain.TenantUser, error)
	GetSendingIdentity(ctx context.Context, phoneNumberID string) (*domain.SendingIdentity, error)
	FindTenantByDefaultIdentity(ctx context.Context, phoneNumberID string) (*domain.Tenant, error)
	UpsertSendingIdentities(ctx context.Context, ids []domain.SendingIdentity) error
}

// PhoneNumberLister lists a business account's sending identities.
type PhoneNumberLister interface {
	ListPhoneNumbers(ctx context.Context, creds whatsapp.Credentials, wabaID string) ([]whatsapp.PhoneNumber, error)
}
