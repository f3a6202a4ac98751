package domain

import "time"

// Tenant is an isolated customer account with its own gateway business
// account and credentials.
type Tenant struct {
	ID                   string    `json:"id" db:"id"`
	Name                 string    `json:"name" db:"name"`
	WABAID               string    `json:"waba_id" db:"waba_id"`
	AccessToken          string    `json:"-" db:"access_token"`
	APIVersion           string    `json:"api_version" db:"api_version"`
	TemplateLanguage     string    `json:"template_language" db:"template_language"`
	DefaultPhoneNumberID string    `json:"default_phone_number_id" db:"default_phone_number_id"`
	DefaultDisplayPhone  string    `json:"default_display_phone" db:"default_display_phone"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
}

// SendingIdentity is one outbound phone number registered under a tenant.
// ID is the gateway's phone_number_id.
type SendingIdentity struct {
	ID           string `json:"id" db:"phone_number_id"`
	TenantID     string `json:"tenant_id" db:"tenant_id"`
	DisplayPhone string `json:"display_phone_number" db:"display_phone"`
	VerifiedName string `json:"verified_name,omitempty" db:"verified_name"`
}

// TenantUser maps an authenticated caller to a tenant. PhoneNumberID, when
// set, pins the caller to one sending identity.
type TenantUser struct {
	UserID        string `db:"user_id"`
	TenantID      string `db:"tenant_id"`
	PhoneNumberID string `db:"phone_number_id"`
}
