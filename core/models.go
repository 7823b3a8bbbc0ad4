package core

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"
)

// Category is the closed set of memo categories. The Korean labels are the
// wire values: they appear verbatim in classification prompts, stored memos
// and API responses, so they must never drift from the prompt text.
type Category string

const (
	CategoryShopping    Category = "쇼핑리스트"
	CategoryTodo        Category = "투두리스트"
	CategoryAppointment Category = "약속 일정"
	CategoryHomework    Category = "학교 수업 과제 일정"
	CategoryIdea        Category = "아이디어"
	CategoryOther       Category = "기타"
)

// AllCategoryLabels returns the six labels in prompt order.
func AllCategoryLabels() []Category {
	return []Category{
		CategoryShopping,
		CategoryTodo,
		CategoryAppointment,
		CategoryHomework,
		CategoryIdea,
		CategoryOther,
	}
}

// NormalizeCategory maps free text from the model onto the closed set.
// Anything unrecognized falls into 기타.
func NormalizeCategory(s string) Category {
	c := Category(strings.TrimSpace(s))
	for _, k := range AllCategoryLabels() {
		if c == k {
			return k
		}
	}
	return CategoryOther
}

// CategorySummary is one category's itemized content for a single memo.
// A memo may carry several of these when the transcript spans categories.
type CategorySummary struct {
	Category     Category `json:"category"`
	SummaryList  []string `json:"summary_list"`
	Keywords     []string `json:"keywords,omitempty"`
	AISupplement string   `json:"ai_supplement,omitempty"`
}

// FlattenSummary joins every summary item across categories with "|",
// in array order. Kept for backward-compatible single-string display.
func FlattenSummary(cats []CategorySummary) string {
	var items []string
	for _, c := range cats {
		items = append(items, c.SummaryList...)
	}
	return strings.Join(items, "|")
}

type Sentiment struct {
	Score     float64 `json:"score"`
	Magnitude float64 `json:"magnitude"`
}

type Entity struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Salience float64 `json:"salience"`
}

// AnalysisResult is the outcome of one category-analysis round trip
// (or of the deterministic local fallback when that call fails).
type AnalysisResult struct {
	Category      Category          `json:"category"`
	Confidence    float64           `json:"confidence"`
	Summary       string            `json:"summary"`
	SummaryList   []string          `json:"summary_list,omitempty"`
	Keywords      []string          `json:"keywords"`
	Sentiment     Sentiment         `json:"sentiment"`
	Entities      []Entity          `json:"entities,omitempty"`
	AllCategories []CategorySummary `json:"all_categories"`
}

// TranscriptionResult is the speech-to-text outcome. Transcript is never
// empty: recognizers report "no speech" as an error instead.
type TranscriptionResult struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// VoiceMemo is the persisted record, one per completed pipeline run.
type VoiceMemo struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	AudioURL      string            `json:"audio_url"`
	Duration      float64           `json:"duration"`
	Transcription string            `json:"transcription,omitempty"`
	Summary       string            `json:"summary"`
	Category      Category          `json:"category"`
	AllCategories []CategorySummary `json:"all_categories"`
	Tags          []string          `json:"tags,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// MemoHit is one semantic-search result over a user's memos.
type MemoHit struct {
	Score    float64  `json:"score"`
	MemoID   string   `json:"memo_id"`
	Category Category `json:"category"`
	Summary  string   `json:"summary"`
	Text     string   `json:"text"`
}

// PipelineState names the orchestrator's states in execution order.
type PipelineState string

const (
	StateUpload            PipelineState = "upload"
	StateSpeechToText      PipelineState = "speech-to-text"
	StateTextAnalysis      PipelineState = "text-analysis"
	StateClassification    PipelineState = "category-classification"
	StateSummaryGeneration PipelineState = "summary-generation"
	StateSaving            PipelineState = "saving"
	StateCompleted         PipelineState = "completed"
	StateError             PipelineState = "error"
)

// Step records one pipeline step's outcome for the response step log.
type Step struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "completed", "failed", "skipped"
	Error  string `json:"error,omitempty"`
}

const (
	StepCompleted = "completed"
	StepFailed    = "failed"
	StepSkipped   = "skipped"
)

// PipelineResult is the terminal object of a completed run.
type PipelineResult struct {
	MemoID        string            `json:"memo_id"`
	Ephemeral     bool              `json:"ephemeral,omitempty"` // persistence failed; id is session-local
	Transcript    string            `json:"transcript"`
	Confidence    float64           `json:"confidence"`
	Category      Category          `json:"category"`
	AllCategories []CategorySummary `json:"all_categories"`
	Summary       string            `json:"summary"`
	Keywords      []string          `json:"keywords"`
	Sentiment     Sentiment         `json:"sentiment"`
	Entities      []Entity          `json:"entities,omitempty"`
	AudioURL      string            `json:"audio_url"`
	StoragePath   string            `json:"storage_path,omitempty"`
	Duration      float64           `json:"duration"`
	ProcessingMS  int64             `json:"processing_ms"`
	CreatedAt     time.Time         `json:"created_at"`
}

// NewID returns a random 32-char hex id, used for jobs and temp blob names.
func NewID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%x", b)
}
