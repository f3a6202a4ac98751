package followup

import (
	"regexp"
	"strings"

	"github.com/osteele/liquid"

	"github.com/mckuadrat/wa-broadcast/internal/domain"
	"github.com/mckuadrat/wa-broadcast/internal/pkg/logger"
)

// {{1}}, {{ var1 }} and either form with a filter chain: {{ 1 | upcase }}.
var markerRe = regexp.MustCompile(`\{\{\s*(?:var)?(\d+)\s*(\|[^{}]*)?\}\}`)

// Renderer fills follow-up text. Positional markers {{1}}..{{n}} take the
// recipient's var1..varN; markers without a value render empty. A marker may
// carry Liquid filters ({{ 1 | upcase }}). All other text, including other
// braces and {% %} tags, is sent as written.
type Renderer struct {
	engine *liquid.Engine
}

// NewRenderer creates a renderer.
func NewRenderer() *Renderer {
	return &Renderer{engine: liquid.NewEngine()}
}

// Render returns text with params substituted.
func (r *Renderer) Render(text string, params domain.Params) string {
	bindings := make(map[string]any, len(params))
	for name, v := range params.Map() {
		bindings[name] = v
	}

	out, err := r.engine.ParseAndRenderString(toLiquid(text), bindings)
	if err != nil {
		logger.Debug("followup: liquid render failed, substituting markers", "error", err)
		return substitute(text, bindings)
	}
	return out
}

// toLiquid keeps the markers live and wraps every literal run in a raw block.
func toLiquid(text string) string {
	var b strings.Builder
	last := 0
	for _, m := range markerRe.FindAllStringSubmatchIndex(text, -1) {
		writeRaw(&b, text[last:m[0]])
		b.WriteString("{{ var")
		b.WriteString(text[m[2]:m[3]])
		if m[4] >= 0 {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(text[m[4]:m[5]]))
		}
		b.WriteString(" }}")
		last = m[1]
	}
	writeRaw(&b, text[last:])
	return b.String()
}

func writeRaw(b *strings.Builder, s string) {
	if s == "" {
		return
	}
	b.WriteString("{% raw %}")
	b.WriteString(s)
	b.WriteString("{% endraw %}")
}

// substitute replaces only the positional markers.
func substitute(text string, bindings map[string]any) string {
	return markerRe.ReplaceAllStringFunc(text, func(m string) string {
		n := markerRe.FindStringSubmatch(m)[1]
		if v, ok := bindings["var"+n].(string); ok {
			return v
		}
		return ""
	})
}
