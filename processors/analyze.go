package processors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"voiceMemo/config"
	"voiceMemo/core"
)

// defaultConfidence is assigned to every classification. The model does not
// report a per-category score in this contract; this constant is a documented
// approximation, not a measurement.
const defaultConfidence = 0.85

// Typed parse failures. Both are recoverable: the pipeline substitutes the
// deterministic fallback instead of aborting.
var (
	ErrNoJSON      = errors.New("no JSON array found in model response")
	ErrInvalidJSON = errors.New("invalid JSON in model response")
)

// CategoryAnalyzer classifies and summarizes a transcript into the six
// fixed categories.
type CategoryAnalyzer interface {
	Analyze(ctx context.Context, text string) (*core.AnalysisResult, error)
}

// ---------------- Mock ----------------

type MockCategoryAnalyzer struct{}

func (m MockCategoryAnalyzer) Analyze(ctx context.Context, text string) (*core.AnalysisResult, error) {
	cats := []core.CategorySummary{{
		Category:    core.CategoryOther,
		SummaryList: []string{truncateRunes(text, 100)},
		Keywords:    firstTokens(text, 5),
	}}
	return buildAnalysisResult(cats), nil
}

// ---------------- LLM ----------------

type LLMCategoryAnalyzer struct {
	cli   *openai.Client
	model string
}

func NewLLMCategoryAnalyzer(cfg *config.Config) *LLMCategoryAnalyzer {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &LLMCategoryAnalyzer{cli: openai.NewClientWithConfig(oc), model: cfg.ChatModel}
}

func classificationPrompt(text string) string {
	return `다음은 음성 메모를 텍스트로 변환한 내용입니다. 아래 6개 카테고리 중 해당하는 모든 카테고리를 찾아 분류하세요:
쇼핑리스트, 투두리스트, 약속 일정, 학교 수업 과제 일정, 아이디어, 기타

카테고리별 작성 규칙:
1) 쇼핑리스트: 구매할 품목명만 명사형으로 추출 (예: "우유", "계란 한 판")
2) 투두리스트: 완료 가능한 행동 단위로 분리 (예: "보고서 제출하기")
3) 약속 일정: 일정마다 날짜+시간+장소+내용을 포함한 한 문장으로 재구성 (바로 표시 가능한 형태)
4) 학교 수업 과제 일정: 과제 내용과 마감 기한을 함께 작성
5) 아이디어: 3문장 이내로 종합하고, ai_supplement 필드에 아이디어를 발전시킨 보충 설명을 추가
6) 기타: 2문장 이내로 요약

공통 규칙:
- 원문 문장을 그대로 복사하지 말고, 각 항목이 독립적으로 실행 가능한 구문이 되도록 분해하세요.
- 해당하는 카테고리만 포함하세요.
- 다음 형식의 JSON 배열만 출력하세요 (다른 텍스트 금지):
[{"category": "카테고리명", "summary_list": ["항목1", "항목2"], "keywords": ["키워드1"], "ai_supplement": ""}]

변환된 텍스트:
` + text
}

func (a *LLMCategoryAnalyzer) Analyze(ctx context.Context, text string) (*core.AnalysisResult, error) {
	resp, err := a.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: classificationPrompt(text)},
		},
		MaxTokens:   1500,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("classification API failed: %v", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response choices from classification API")
	}

	cats, err := ParseCategoryResponse(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	return buildAnalysisResult(cats), nil
}

// ParseCategoryResponse extracts the JSON array from a model reply that may
// wrap it in prose or Markdown code fences.
func ParseCategoryResponse(raw string) ([]core.CategorySummary, error) {
	jsonText, err := extractJSONArray(raw)
	if err != nil {
		return nil, err
	}

	var parsed []core.CategorySummary
	if err := json.Unmarshal([]byte(jsonText), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	cats := make([]core.CategorySummary, 0, len(parsed))
	for _, c := range parsed {
		items := make([]string, 0, len(c.SummaryList))
		for _, it := range c.SummaryList {
			if s := strings.TrimSpace(it); s != "" {
				items = append(items, s)
			}
		}
		if len(items) == 0 {
			continue
		}
		c.Category = core.NormalizeCategory(string(c.Category))
		c.SummaryList = items
		if c.Category != core.CategoryIdea {
			c.AISupplement = ""
		}
		cats = append(cats, c)
	}
	if len(cats) == 0 {
		return nil, fmt.Errorf("%w: empty category array", ErrInvalidJSON)
	}
	return cats, nil
}

func extractJSONArray(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end <= start {
		return "", ErrNoJSON
	}
	return s[start : end+1], nil
}

func buildAnalysisResult(cats []core.CategorySummary) *core.AnalysisResult {
	primary := cats[0]
	var keywords []string
	seen := make(map[string]bool)
	for _, c := range cats {
		for _, k := range c.Keywords {
			if k = strings.TrimSpace(k); k != "" && !seen[k] {
				seen[k] = true
				keywords = append(keywords, k)
			}
		}
	}
	return &core.AnalysisResult{
		Category:      primary.Category,
		Confidence:    defaultConfidence,
		Summary:       core.FlattenSummary(cats),
		SummaryList:   primary.SummaryList,
		Keywords:      keywords,
		Sentiment:     neutralSentiment(),
		Entities:      entitiesFromKeywords(keywords),
		AllCategories: cats,
	}
}

// FallbackAnalysis is the deterministic local substitute used when the
// classification call fails: the memo stays useful with the raw transcript.
func FallbackAnalysis(transcript string) *core.AnalysisResult {
	summary := truncateRunes(transcript, 100)
	keywords := firstTokens(transcript, 5)
	return &core.AnalysisResult{
		Category:   core.CategoryOther,
		Confidence: defaultConfidence,
		Summary:    summary,
		SummaryList: []string{
			summary,
		},
		Keywords:  keywords,
		Sentiment: neutralSentiment(),
		Entities:  entitiesFromKeywords(keywords),
		AllCategories: []core.CategorySummary{{
			Category:    core.CategoryOther,
			SummaryList: []string{summary},
			Keywords:    keywords,
		}},
	}
}

// neutralSentiment is the neutral-slightly-positive default used whenever no
// measured sentiment exists.
func neutralSentiment() core.Sentiment {
	return core.Sentiment{Score: 0.1, Magnitude: 0.1}
}

// entitiesFromKeywords derives entity records from keywords with decaying
// salience. An approximation standing in for a dedicated entity analyzer.
func entitiesFromKeywords(keywords []string) []core.Entity {
	entities := make([]core.Entity, 0, len(keywords))
	for i, k := range keywords {
		entities = append(entities, core.Entity{Name: k, Type: "OTHER", Salience: 1.0 / float64(i+1)})
	}
	return entities
}

func firstTokens(text string, n int) []string {
	fields := strings.Fields(text)
	if len(fields) > n {
		fields = fields[:n]
	}
	return fields
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// PickCategoryAnalyzer selects the analyzer provider.
func PickCategoryAnalyzer(cfg *config.Config) CategoryAnalyzer {
	if !cfg.HasValidAPI() {
		log.Println("Warning: API configuration not found, using mock category analyzer")
		return MockCategoryAnalyzer{}
	}
	return NewLLMCategoryAnalyzer(cfg)
}
