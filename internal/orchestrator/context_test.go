package orchestrator

import (
	"testing"

	"github.com/ashureev/fincomply/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestResolveContext(t *testing.T) {
	tests := []struct {
		name        string
		thread      *domain.Thread
		wantTitle   string
		wantSummary string
	}{
		{
			name:        "canonical title only",
			thread:      &domain.Thread{Title: "Board meetings"},
			wantTitle:   "Board meetings",
			wantSummary: "",
		},
		{
			name: "snake case wins over everything",
			thread: &domain.Thread{Title: "plain", Attributes: map[string]any{
				"sebi_title": "snake", "sebiTitle": "camel",
				"sebi_summary": "snake summary", "sebiSummary": "camel summary",
			}},
			wantTitle:   "snake",
			wantSummary: "snake summary",
		},
		{
			name: "nested sebi document",
			thread: &domain.Thread{Title: "plain", Attributes: map[string]any{
				"sebi": map[string]any{"title": "nested", "text": "nested text"},
			}},
			wantTitle:   "nested",
			wantSummary: "nested text",
		},
		{
			name: "nested summary beats update fields",
			thread: &domain.Thread{Attributes: map[string]any{
				"sebi":              map[string]any{"summary": "nested summary"},
				"sebiUpdateSummary": "update summary",
			}},
			wantSummary: "nested summary",
		},
		{
			name: "update feed fields",
			thread: &domain.Thread{Title: "ignored", Attributes: map[string]any{
				"sebiUpdateTitle": "Update title",
				"sebiUpdateText":  "Update text",
			}},
			wantTitle:   "Update title",
			wantSummary: "Update text",
		},
		{
			name: "update summary beats update text",
			thread: &domain.Thread{Attributes: map[string]any{
				"sebiUpdateSummary": "summary",
				"sebiUpdateText":    "text",
			}},
			wantSummary: "summary",
		},
		{
			name:        "sebiText then sebiContext",
			thread:      &domain.Thread{Attributes: map[string]any{"sebiContext": "ctx", "sebiText": "txt"}},
			wantSummary: "txt",
		},
		{
			name:        "sebiContext alone",
			thread:      &domain.Thread{Attributes: map[string]any{"sebiContext": "ctx"}},
			wantSummary: "ctx",
		},
		{
			name: "present empty alias stops the search",
			thread: &domain.Thread{Title: "plain", Attributes: map[string]any{
				"sebi_title": "", "sebiTitle": "camel",
			}},
			wantTitle: "",
		},
		{
			name: "null and non-string values are skipped",
			thread: &domain.Thread{Title: "plain", Attributes: map[string]any{
				"sebi_title": nil, "sebiTitle": 42, "sebi_summary": nil, "sebiSummary": "camel summary",
			}},
			wantTitle:   "plain",
			wantSummary: "camel summary",
		},
		{
			name:   "nothing at all",
			thread: &domain.Thread{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, summary := ResolveContext(tt.thread)
			assert.Equal(t, tt.wantTitle, title)
			assert.Equal(t, tt.wantSummary, summary)
		})
	}
}

func TestResolveContextNilThread(t *testing.T) {
	title, summary := ResolveContext(nil)
	assert.Empty(t, title)
	assert.Empty(t, summary)
}
