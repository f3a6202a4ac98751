package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/mckuadrat/wa-broadcast/internal/tenant"
)

// CallerContextKey is the key for storing the caller lookup
type CallerContextKey struct{}

// Headers set by the authenticating proxy in front of the engine.
const (
	HeaderUserID   = "X-User-ID"
	HeaderTenantID = "X-Tenant-ID"
)

// CallerMiddleware extracts the caller from the request.
// Priority for the tenant: 1. X-Tenant-ID header, 2. tenant_id query param
func CallerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := tenant.Lookup{
			UserID:   strings.TrimSpace(r.Header.Get(HeaderUserID)),
			TenantID: strings.TrimSpace(r.Header.Get(HeaderTenantID)),
		}
		if caller.TenantID == "" {
			caller.TenantID = strings.TrimSpace(r.URL.Query().Get("tenant_id"))
		}
		ctx := context.WithValue(r.Context(), CallerContextKey{}, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CallerFromContext retrieves the caller lookup. A request that skipped the
// middleware yields an empty lookup, which resolves to the deployment
// default.
func CallerFromContext(ctx context.Context) tenant.Lookup {
	if l, ok := ctx.Value(CallerContextKey{}).(tenant.Lookup); ok {
		return l
	}
	return tenant.Lookup{}
}
