// Package tenant resolves which tenant, credentials and sending identity an
// operation runs under.
//
// Resolution walks an ordered list of strategies and the first match wins:
//
//  1. caller override: the authenticated caller or an explicit tenant id
//  2. mapping table: the sending identity's registered tenant
//  3. tenant default: a tenant whose default identity is the key
//  4. deployment fallback: the single-tenant credentials in configuration
//
// When nothing matches, ErrNotConfigured is returned. The mapping table is a
// cache of the gateway's phone number listing, filled in by Identities.
package tenant
