// Package templates answers two questions about an approved template before
// it is sent: how many positional body parameters it takes and which
// language code it was approved under.
package templates

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/mckuadrat/wa-broadcast/internal/metrics"
	"github.com/mckuadrat/wa-broadcast/internal/pkg/logger"
	"github.com/mckuadrat/wa-broadcast/internal/tenant"
	"github.com/mckuadrat/wa-broadcast/internal/whatsapp"
)

// Header formats as reported by the gateway. HeaderUnknown means the
// metadata could not be fetched.
const (
	HeaderUnknown  = ""
	HeaderNone     = "NONE"
	HeaderText     = "TEXT"
	HeaderDocument = "DOCUMENT"
	HeaderImage    = "IMAGE"
	HeaderVideo    = "VIDEO"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*(\d+)\s*\}\}`)

// Metadata describes one approved template.
type Metadata struct {
	Name         string
	ParamCount   int
	Language     string
	HeaderFormat string
	// Found is false when the values are the safe defaults.
	Found bool
}

// HasMediaHeader reports whether the template takes a media header. Unknown
// metadata counts as a document header.
func (m Metadata) HasMediaHeader() bool {
	switch m.HeaderFormat {
	case HeaderUnknown, HeaderDocument, HeaderImage, HeaderVideo:
		return true
	}
	return false
}

// Lister lists templates of a business account.
type Lister interface {
	ListTemplates(ctx context.Context, creds whatsapp.Credentials, wabaID string, q whatsapp.TemplateQuery) ([]whatsapp.TemplateInfo, error)
}

// Lookup fetches template metadata from the gateway. It never fails: any
// error yields zero params and the tenant's default language.
type Lookup struct {
	lister Lister
}

// NewLookup creates a lookup backed by the gateway.
func NewLookup(lister Lister) *Lookup {
	return &Lookup{lister: lister}
}

// Get returns the metadata of the named template.
func (l *Lookup) Get(ctx context.Context, tc *tenant.Context, name string) Metadata {
	fallback := Metadata{Name: name, Language: tc.TemplateLanguage}
	if tc.WABAID == "" {
		metrics.TemplateMetadataLookupsTotal.WithLabelValues("fallback").Inc()
		return fallback
	}

	list, err := l.lister.ListTemplates(ctx, tc.Credentials(), tc.WABAID, whatsapp.TemplateQuery{Name: name})
	if err != nil {
		logger.Warn("templates: metadata lookup failed", "template", name, "tenant_id", tc.TenantID, "error", err)
		metrics.TemplateMetadataLookupsTotal.WithLabelValues("fallback").Inc()
		return fallback
	}

	info := pick(list, name, tc.TemplateLanguage)
	if info == nil {
		logger.Warn("templates: no approved template", "template", name, "tenant_id", tc.TenantID)
		metrics.TemplateMetadataLookupsTotal.WithLabelValues("fallback").Inc()
		return fallback
	}
	metrics.TemplateMetadataLookupsTotal.WithLabelValues("hit").Inc()
	return describe(info, tc.TemplateLanguage)
}

// List returns the tenant's templates, optionally filtered by status
// (e.g. "APPROVED").
func (l *Lookup) List(ctx context.Context, tc *tenant.Context, status string) ([]whatsapp.TemplateInfo, error) {
	if tc.WABAID == "" {
		return nil, fmt.Errorf("list templates: %w: no business account id", tenant.ErrNotConfigured)
	}
	return l.lister.ListTemplates(ctx, tc.Credentials(), tc.WABAID, whatsapp.TemplateQuery{Status: strings.ToUpper(status)})
}

// Session returns a per-dispatch cache over l.
func (l *Lookup) Session() *Session {
	return &Session{lookup: l, entries: make(map[string]Metadata)}
}

// Session memoizes lookups for the duration of one dispatch. It is safe
// for concurrent use.
type Session struct {
	lookup  *Lookup
	mu      sync.Mutex
	entries map[string]Metadata
}

// Get returns cached metadata or fetches it once.
func (s *Session) Get(ctx context.Context, tc *tenant.Context, name string) Metadata {
	key := tc.TenantID + "|" + tc.WABAID + "|" + name
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.entries[key]; ok {
		return m
	}
	m := s.lookup.Get(ctx, tc, name)
	s.entries[key] = m
	return m
}

// CountPlaceholders returns the number of distinct {{n}} markers in text.
func CountPlaceholders(text string) int {
	seen := make(map[string]struct{})
	for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
		seen[m[1]] = struct{}{}
	}
	return len(seen)
}

func pick(list []whatsapp.TemplateInfo, name, language string) *whatsapp.TemplateInfo {
	var first *whatsapp.TemplateInfo
	for i := range list {
		t := &list[i]
		if t.Name != name || !strings.EqualFold(t.Status, "APPROVED") {
			continue
		}
		if strings.EqualFold(t.Language, language) {
			return t
		}
		if first == nil {
			first = t
		}
	}
	return first
}

func describe(t *whatsapp.TemplateInfo, defaultLanguage string) Metadata {
	m := Metadata{Name: t.Name, Language: t.Language, HeaderFormat: HeaderNone, Found: true}
	if m.Language == "" {
		m.Language = defaultLanguage
	}
	for _, c := range t.Components {
		switch strings.ToUpper(c.Type) {
		case "BODY":
			m.ParamCount = CountPlaceholders(c.Text)
		case "HEADER":
			m.HeaderFormat = strings.ToUpper(c.Format)
			if m.HeaderFormat == "" {
				m.HeaderFormat = HeaderText
			}
		}
	}
	return m
}
