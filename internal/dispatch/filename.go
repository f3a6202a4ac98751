package dispatch

import (
	"net/url"
	"path"
	"strings"

	"github.com/mckuadrat/wa-broadcast/internal/config"
)

// NormalizeFilename returns a document filename that always ends in the
// configured extension. With no filename it is derived from the link's last
// path segment, then from the configured default name. An existing extension
// that differs is replaced, so "photo.jpg" becomes "photo.pdf".
func NormalizeFilename(filename, link string, cfg config.MediaConfig) string {
	ext := cfg.DocumentExtension
	if ext == "" {
		ext = ".pdf"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	name := strings.TrimSpace(filename)
	if name == "" {
		name = nameFromLink(link)
	}
	if name == "" {
		name = cfg.DefaultFilename
	}
	if name == "" {
		name = "document"
	}

	if strings.HasSuffix(strings.ToLower(name), strings.ToLower(ext)) && len(name) > len(ext) {
		return name
	}
	if old := path.Ext(name); old != "" && old != name && len(old) <= 6 {
		name = strings.TrimSuffix(name, old)
	}
	return name + ext
}

func nameFromLink(link string) string {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return ""
	}
	if unescaped, err := url.PathUnescape(base); err == nil {
		base = unescaped
	}
	return strings.TrimSpace(base)
}
