package rag

import "strings"

// AnswerRequest is the body of POST /rag/answer.
type AnswerRequest struct {
	Title    string `json:"sebi_title"`
	Summary  string `json:"sebi_summary"`
	Question string `json:"user_question"`
}

// Source is one retrieved document backing an answer.
type Source struct {
	DocumentTitle   string  `json:"document_title"`
	Category        string  `json:"category"`
	SourceURL       string  `json:"source_url"`
	PublishedDate   string  `json:"published_date"`
	ChunkText       string  `json:"chunk_text"`
	SimilarityScore float64 `json:"similarity_score"`
}

// Answer is the response of POST /rag/answer. Both fields may be absent.
type Answer struct {
	UserAnswer string   `json:"user_answer"`
	Sources    []Source `json:"sources"`
}

// SummaryRequest is the body of POST /rag/summary.
type SummaryRequest struct {
	Body string `json:"body"`
}

// Summary is a normalized summary response. Title or Summary are empty when
// the service omitted every known key for them.
type Summary struct {
	Title   string
	Summary string
	Date    string
}

// Keys the summary service has used for each field, in priority order.
var (
	summaryTitleKeys   = []string{"sebi-title", "sebi_title", "sebiTitle"}
	summarySummaryKeys = []string{"sebi-summary", "sebi_summary", "sebiSummary"}
)

// NormalizeSummary picks title and summary from the first key present in raw.
func NormalizeSummary(raw map[string]any) *Summary {
	s := &Summary{
		Title:   firstString(raw, summaryTitleKeys),
		Summary: firstString(raw, summarySummaryKeys),
	}
	if date, ok := raw["date"].(string); ok {
		s.Date = strings.TrimSpace(date)
	}
	return s
}

func firstString(raw map[string]any, keys []string) string {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		str, _ := v.(string)
		return str
	}
	return ""
}
