package orchestrator

import (
	"log/slog"

	"github.com/ashureev/fincomply/internal/domain"
)

// contextField reads one candidate value for a grounding field. ok is false when
// the thread does not carry that field.
type contextField struct {
	name string
	get  func(t *domain.Thread) (value string, ok bool)
}

// Thread documents written by earlier versions of the product stored their
// grounding context under several keys. Each list is tried in order and the
// first field present wins, even when it is an empty string. Retire an alias by
// deleting its line once no stored thread carries it.
var (
	titleFields = []contextField{
		attribute("sebi_title"),
		attribute("sebiTitle"),
		nestedAttribute("sebi", "title"),
		attribute("sebiUpdateTitle"), // update-feed threads
		{name: "title", get: func(t *domain.Thread) (string, bool) { return t.Title, true }},
	}

	summaryFields = []contextField{
		attribute("sebi_summary"),
		attribute("sebiSummary"),
		nestedAttribute("sebi", "summary"),
		attribute("sebiUpdateSummary"), // update-feed threads
		attribute("sebiUpdateText"),    // update-feed threads, older payloads
		attribute("sebiText"),
		attribute("sebiContext"),
		nestedAttribute("sebi", "text"),
	}
)

func attribute(key string) contextField {
	return contextField{
		name: key,
		get: func(t *domain.Thread) (string, bool) {
			return stringValue(t.Attributes[key])
		},
	}
}

func nestedAttribute(parent, key string) contextField {
	return contextField{
		name: parent + "." + key,
		get: func(t *domain.Thread) (string, bool) {
			nested, ok := t.Attributes[parent].(map[string]any)
			if !ok {
				return "", false
			}
			return stringValue(nested[key])
		},
	}
}

// stringValue treats nil and non-string values as absent.
func stringValue(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func resolve(t *domain.Thread, fields []contextField) (value, field string) {
	for _, f := range fields {
		if v, ok := f.get(t); ok {
			return v, f.name
		}
	}
	return "", ""
}

// ResolveContext returns the grounding title and summary for a thread. It never
// fails; missing fields resolve to empty strings.
func ResolveContext(t *domain.Thread) (title, summary string) {
	if t == nil {
		return "", ""
	}
	title, titleField := resolve(t, titleFields)
	summary, summaryField := resolve(t, summaryFields)
	slog.Debug("resolved grounding context", "thread_id", t.ID, "title_field", titleField, "summary_field", summaryField)
	return title, summary
}
