package processors

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"voiceMemo/core"
)

// CalendarEvent is the derived, never-persisted product of event extraction.
// Date and CalendarURL stay empty when no date pattern matches; that is a
// normal outcome, not an error.
type CalendarEvent struct {
	Title        string         `json:"title"`
	Date         *time.Time     `json:"date"`
	Time         string         `json:"time"` // HH:mm, empty for all-day
	Location     string         `json:"location"`
	CalendarURL  string         `json:"calendar_url"`
	SourceMemoID string         `json:"source_memo_id,omitempty"`
	Category     core.Category  `json:"category,omitempty"`
}

var weekdays = map[string]time.Weekday{
	"일": time.Sunday,
	"월": time.Monday,
	"화": time.Tuesday,
	"수": time.Wednesday,
	"목": time.Thursday,
	"금": time.Friday,
	"토": time.Saturday,
}

// dateRule pairs one pattern with its resolver. Rules are evaluated
// top-to-bottom and the first match wins, so the slice order IS the
// priority order: absolute dates beat relative weekdays beat day names
// beat the weekend.
type dateRule struct {
	re      *regexp.Regexp
	resolve func(m []string, today time.Time) time.Time
}

var dateRules = []dateRule{
	{ // 2025년 12월 7일
		re: regexp.MustCompile(`(\d{4})년\s*(\d{1,2})월\s*(\d{1,2})일`),
		resolve: func(m []string, today time.Time) time.Time {
			y, _ := strconv.Atoi(m[1])
			mo, _ := strconv.Atoi(m[2])
			d, _ := strconv.Atoi(m[3])
			return time.Date(y, time.Month(mo), d, 0, 0, 0, 0, today.Location())
		},
	},
	{ // 12월 7일: implicit year, rolled forward when already past
		re: regexp.MustCompile(`(\d{1,2})월\s*(\d{1,2})일`),
		resolve: func(m []string, today time.Time) time.Time {
			mo, _ := strconv.Atoi(m[1])
			d, _ := strconv.Atoi(m[2])
			date := time.Date(today.Year(), time.Month(mo), d, 0, 0, 0, 0, today.Location())
			if date.Before(today) {
				date = date.AddDate(1, 0, 0)
			}
			return date
		},
	},
	{ // 다음주 월요일: strictly beyond the coming 7 days
		re: regexp.MustCompile(`다음\s*주?\s*([월화수목금토일])요일`),
		resolve: func(m []string, today time.Time) time.Time {
			return today.AddDate(0, 0, weekdayDelta(today, weekdays[m[1]])+7)
		},
	},
	{ // 이번주 금요일: soonest occurrence, today included
		re: regexp.MustCompile(`이번\s*주?\s*([월화수목금토일])요일`),
		resolve: func(m []string, today time.Time) time.Time {
			return today.AddDate(0, 0, weekdayDelta(today, weekdays[m[1]]))
		},
	},
	{ // bare 토요일: no qualifier resolves like 이번주
		re: regexp.MustCompile(`([월화수목금토일])요일`),
		resolve: func(m []string, today time.Time) time.Time {
			return today.AddDate(0, 0, weekdayDelta(today, weekdays[m[1]]))
		},
	},
	{ // 오늘 / 내일 / 모레
		re: regexp.MustCompile(`오늘|내일|모레`),
		resolve: func(m []string, today time.Time) time.Time {
			switch m[0] {
			case "내일":
				return today.AddDate(0, 0, 1)
			case "모레":
				return today.AddDate(0, 0, 2)
			default:
				return today
			}
		},
	},
	{ // 주말: upcoming Saturday
		re: regexp.MustCompile(`주말`),
		resolve: func(m []string, today time.Time) time.Time {
			return today.AddDate(0, 0, weekdayDelta(today, time.Saturday))
		},
	},
}

// weekdayDelta is days until the next occurrence of target, 0 when today
// already is that weekday. Never negative, so resolved dates never land in
// the past.
func weekdayDelta(today time.Time, target time.Weekday) int {
	return (int(target) - int(today.Weekday()) + 7) % 7
}

type timeRule struct {
	re      *regexp.Regexp
	resolve func(m []string) (hour, minute int, ok bool)
}

var timeRules = []timeRule{
	{ // 오전/오후 3시 30분 (trailing 전에/까지 noise needs no stripping: the match ignores it)
		re: regexp.MustCompile(`(오전|오후)\s*(\d{1,2})시(?:\s*(\d{1,2})분)?`),
		resolve: func(m []string) (int, int, bool) {
			h, _ := strconv.Atoi(m[2])
			if h < 1 || h > 12 {
				return 0, 0, false
			}
			if m[1] == "오전" && h == 12 {
				h = 0
			}
			if m[1] == "오후" && h != 12 {
				h += 12
			}
			return h, optMinute(m[3]), true
		},
	},
	{ // bare 3시: hours 1-6 read as afternoon. Conversational Korean in
		// this domain almost never means 3 AM by a bare "3시".
		re: regexp.MustCompile(`(\d{1,2})시(?:\s*(\d{1,2})분)?`),
		resolve: func(m []string) (int, int, bool) {
			h, _ := strconv.Atoi(m[1])
			if h > 23 {
				return 0, 0, false
			}
			if h >= 1 && h <= 6 {
				h += 12
			}
			return h, optMinute(m[2]), true
		},
	},
	{ // 15:30 literal
		re: regexp.MustCompile(`(\d{1,2}):(\d{2})`),
		resolve: func(m []string) (int, int, bool) {
			h, _ := strconv.Atoi(m[1])
			min, _ := strconv.Atoi(m[2])
			if h > 23 || min > 59 {
				return 0, 0, false
			}
			return h, min, true
		},
	},
}

func optMinute(s string) int {
	if s == "" {
		return 0
	}
	min, _ := strconv.Atoi(s)
	if min > 59 {
		return 0
	}
	return min
}

// Location pattern families, again first-match-wins: a phrase before 에서,
// a place-suffixed token, an explicit 장소: label.
var locationRules = []*regexp.Regexp{
	regexp.MustCompile(`([가-힣a-zA-Z0-9]+)\s*에서`),
	regexp.MustCompile(`([가-힣]+(?:역|카페|식당|공원|센터|빌딩|병원|학교|회사|출구))(?:에서|에)`),
	regexp.MustCompile(`장소\s*[:：]\s*([^\s,]+)`),
}

// ExtractEvent parses one free-text item relative to the current time.
func ExtractEvent(text string) CalendarEvent {
	return ExtractEventAt(text, time.Now())
}

// ExtractEventAt is ExtractEvent with an injected "now", which keeps the
// relative-date rules testable.
func ExtractEventAt(text string, now time.Time) CalendarEvent {
	event := CalendarEvent{Title: truncateRunes(strings.TrimSpace(text), 50)}

	date, ok := resolveDate(text, now)
	if !ok {
		return event
	}

	if hour, minute, ok := resolveTime(text); ok {
		date = time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, date.Location())
		event.Time = fmt.Sprintf("%02d:%02d", hour, minute)
	}

	event.Date = &date
	event.Location = resolveLocation(text)
	event.CalendarURL = buildCalendarURL(event.Title, date, event.Location, text)
	return event
}

func resolveDate(text string, now time.Time) (time.Time, bool) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for _, rule := range dateRules {
		if m := rule.re.FindStringSubmatch(text); m != nil {
			return rule.resolve(m, today), true
		}
	}
	return time.Time{}, false
}

func resolveTime(text string) (int, int, bool) {
	for _, rule := range timeRules {
		if m := rule.re.FindStringSubmatch(text); m != nil {
			if hour, minute, ok := rule.resolve(m); ok {
				return hour, minute, true
			}
		}
	}
	return 0, 0, false
}

func resolveLocation(text string) string {
	for _, re := range locationRules {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}

const calendarTimeLayout = "20060102T150405"

// buildCalendarURL synthesizes the external calendar deep link. Events get a
// fixed one-hour duration; the source text rarely specifies one. Times carry
// no zone suffix and read as the viewer's local time.
func buildCalendarURL(title string, start time.Time, location, details string) string {
	end := start.Add(time.Hour)
	v := url.Values{}
	v.Set("action", "TEMPLATE")
	v.Set("text", truncateRunes(title, 50))
	v.Set("dates", start.Format(calendarTimeLayout)+"/"+end.Format(calendarTimeLayout))
	v.Set("details", details)
	if location != "" {
		v.Set("location", location)
	}
	return "https://calendar.google.com/calendar/render?" + v.Encode()
}
