package broadcast

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mckuadrat/wa-broadcast/internal/domain"
	"github.com/mckuadrat/wa-broadcast/internal/pkg/phone"
)

// Row is one parsed recipient row.
type Row struct {
	Phone       string
	Params      domain.Params
	FollowMedia *domain.Media
}

// ParseRow reads one submitted row. An ordered "params" list is preferred;
// without it, columns named var1..varN are collected in numeric order.
// Empty values are dropped. The address is read from "phone", then "to".
func ParseRow(raw map[string]any, region string) Row {
	addr := stringify(raw["phone"])
	if addr == "" {
		addr = stringify(raw["to"])
	}
	r := Row{Phone: phone.Normalize(addr, region)}

	if list, ok := raw["params"].([]any); ok {
		for i, v := range list {
			if s := stringify(v); s != "" {
				r.Params = append(r.Params, domain.Param{Name: "var" + strconv.Itoa(i+1), Value: s})
			}
		}
	} else {
		vars := make(map[string]string)
		for k, v := range raw {
			if _, ok := domain.VarIndex(k); ok {
				vars[k] = stringify(v)
			}
		}
		r.Params = domain.ParamsFromMap(vars)
	}

	if link := strings.TrimSpace(stringify(raw["follow_media"])); link != "" {
		r.FollowMedia = &domain.Media{
			Kind:     domain.MediaDocument,
			Link:     link,
			Filename: strings.TrimSpace(stringify(raw["follow_media_filename"])),
		}
	}
	return r
}

// ParseRows parses every row.
func ParseRows(raw []map[string]any, region string) []Row {
	rows := make([]Row, len(raw))
	for i, m := range raw {
		rows[i] = ParseRow(m, region)
	}
	return rows
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
