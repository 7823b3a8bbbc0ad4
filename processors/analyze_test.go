package processors

import (
	"errors"
	"strings"
	"testing"

	"voiceMemo/core"
)

func TestParseCategoryResponsePlainArray(t *testing.T) {
	raw := `[{"category": "쇼핑리스트", "summary_list": ["우유", "계란 한 판"], "keywords": ["우유", "계란"], "ai_supplement": ""}]`

	cats, err := ParseCategoryResponse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(cats) != 1 {
		t.Fatalf("Expected 1 category, got %d", len(cats))
	}
	if cats[0].Category != core.CategoryShopping {
		t.Errorf("Expected 쇼핑리스트, got %s", cats[0].Category)
	}
	if len(cats[0].SummaryList) != 2 {
		t.Errorf("Expected 2 summary items, got %d", len(cats[0].SummaryList))
	}
}

func TestParseCategoryResponseStripsCodeFence(t *testing.T) {
	raw := "분류 결과입니다:\n```json\n[{\"category\": \"투두리스트\", \"summary_list\": [\"보고서 제출하기\"], \"keywords\": []}]\n```\n끝."

	cats, err := ParseCategoryResponse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cats[0].Category != core.CategoryTodo {
		t.Errorf("Expected 투두리스트, got %s", cats[0].Category)
	}
}

func TestParseCategoryResponseMultipleCategories(t *testing.T) {
	raw := `[
		{"category": "약속 일정", "summary_list": ["12월 7일 오후 3시 강남역에서 회의"], "keywords": ["회의"]},
		{"category": "쇼핑리스트", "summary_list": ["우유"], "keywords": ["우유"]}
	]`

	cats, err := ParseCategoryResponse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(cats) != 2 {
		t.Fatalf("Expected 2 categories, got %d", len(cats))
	}

	result := buildAnalysisResult(cats)
	if result.Category != core.CategoryAppointment {
		t.Errorf("Expected primary category 약속 일정, got %s", result.Category)
	}
	if !strings.Contains(result.Summary, "|") {
		t.Errorf("Expected flattened summary with separator, got %q", result.Summary)
	}
	if len(result.AllCategories) != 2 {
		t.Errorf("Expected 2 categories retained, got %d", len(result.AllCategories))
	}
}

func TestParseCategoryResponseNoJSON(t *testing.T) {
	_, err := ParseCategoryResponse("죄송하지만 분류할 수 없습니다.")
	if !errors.Is(err, ErrNoJSON) {
		t.Errorf("Expected ErrNoJSON, got %v", err)
	}
}

func TestParseCategoryResponseMalformedJSON(t *testing.T) {
	_, err := ParseCategoryResponse(`[{"category": "기타", "summary_list": [}]`)
	if !errors.Is(err, ErrInvalidJSON) {
		t.Errorf("Expected ErrInvalidJSON, got %v", err)
	}
}

func TestParseCategoryResponseEmptyArray(t *testing.T) {
	_, err := ParseCategoryResponse(`[]`)
	if !errors.Is(err, ErrInvalidJSON) {
		t.Errorf("Expected ErrInvalidJSON for empty array, got %v", err)
	}
}

func TestParseCategoryResponseDropsEmptyItems(t *testing.T) {
	raw := `[
		{"category": "투두리스트", "summary_list": ["  ", ""], "keywords": []},
		{"category": "기타", "summary_list": ["장보기 메모", " "], "keywords": []}
	]`

	cats, err := ParseCategoryResponse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(cats) != 1 {
		t.Fatalf("Expected the empty category to be dropped, got %d", len(cats))
	}
	if len(cats[0].SummaryList) != 1 || cats[0].SummaryList[0] != "장보기 메모" {
		t.Errorf("Unexpected summary list %v", cats[0].SummaryList)
	}
}

func TestParseCategoryResponseUnknownCategoryNormalized(t *testing.T) {
	raw := `[{"category": "잡담", "summary_list": ["오늘 날씨 이야기"], "keywords": []}]`

	cats, err := ParseCategoryResponse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cats[0].Category != core.CategoryOther {
		t.Errorf("Expected unknown label to normalize to 기타, got %s", cats[0].Category)
	}
}

func TestParseCategoryResponseSupplementOnlyForIdeas(t *testing.T) {
	raw := `[
		{"category": "아이디어", "summary_list": ["앱 아이디어"], "keywords": [], "ai_supplement": "시장 조사부터 시작"},
		{"category": "투두리스트", "summary_list": ["장보기"], "keywords": [], "ai_supplement": "불필요한 보충"}
	]`

	cats, err := ParseCategoryResponse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cats[0].AISupplement == "" {
		t.Error("Expected supplement kept for 아이디어")
	}
	if cats[1].AISupplement != "" {
		t.Errorf("Expected supplement cleared for 투두리스트, got %q", cats[1].AISupplement)
	}
}

func TestFallbackAnalysisDeterministic(t *testing.T) {
	transcript := "우유 사고 보고서 제출하고 병원 예약하기"

	a := FallbackAnalysis(transcript)
	b := FallbackAnalysis(transcript)

	if a.Category != core.CategoryOther {
		t.Errorf("Expected 기타, got %s", a.Category)
	}
	if a.Summary != b.Summary || len(a.Keywords) != len(b.Keywords) {
		t.Error("Expected identical results for identical input")
	}
	if len(a.Keywords) != 5 {
		t.Errorf("Expected 5 keywords, got %d", len(a.Keywords))
	}
}

func TestFallbackAnalysisTruncatesLongTranscript(t *testing.T) {
	transcript := strings.Repeat("메", 250)
	a := FallbackAnalysis(transcript)
	if n := len([]rune(a.Summary)); n != 100 {
		t.Errorf("Expected 100-rune summary, got %d", n)
	}
}
