package domain

import (
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	// Pass dates are written as "05-March-2025".
	displayDatePattern = regexp.MustCompile(`^(\d{2})-([A-Za-z]+)-(\d{4})$`)
	numericDatePattern = regexp.MustCompile(`^(\d{2})[/.-](\d{2})[/.-](\d{4})$`)
	unsafeTitleChars   = regexp.MustCompile(`[\\/:*?"<>|]+`)
	whitespaceRun      = regexp.MustCompile(`\s+`)

	titleCaser = cases.Title(language.English)
)

// TitleCase lower-cases s and capitalizes each word.
func TitleCase(s string) string {
	return strings.Join(strings.Fields(titleCaser.String(strings.ToLower(s))), " ")
}

// FormatDisplayDate renders t the way pass dates are typed: "05-March-2025".
func FormatDisplayDate(t time.Time) string {
	return t.Format("02-January-2006")
}

// ParseClientDate parses a pass date written as DD-Month-YYYY. Full and
// abbreviated month names are accepted in any case.
func ParseClientDate(value string) (time.Time, bool) {
	m := displayDatePattern.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return time.Time{}, false
	}
	month := TitleCase(m[2])
	for _, layout := range []string{"02-January-2006", "02-Jan-2006"} {
		if t, err := time.ParseInLocation(layout, m[1]+"-"+month+"-"+m[3], time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatClientDate normalizes the month capitalization of a pass date and
// returns anything else unchanged.
func FormatClientDate(value string) string {
	trimmed := strings.TrimSpace(value)
	m := displayDatePattern.FindStringSubmatch(trimmed)
	if m == nil {
		return trimmed
	}
	return m[1] + "-" + TitleCase(m[2]) + "-" + m[3]
}

// WeekRange returns the Monday 00:00 to Sunday 23:59:59.999 week containing t.
func WeekRange(t time.Time) (time.Time, time.Time) {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	offset := (int(day.Weekday()) + 6) % 7
	start := day.AddDate(0, 0, -offset)
	end := start.AddDate(0, 0, 7).Add(-time.Millisecond)
	return start, end
}

// formatDateForTitle renders a pass date as "05-March 2025" for titles.
func formatDateForTitle(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if m := displayDatePattern.FindStringSubmatch(trimmed); m != nil {
		return m[1] + "-" + TitleCase(m[2]) + " " + m[3]
	}
	if m := numericDatePattern.FindStringSubmatch(trimmed); m != nil {
		t, err := time.Parse("01", m[2])
		if err == nil {
			return m[1] + "-" + t.Month().String() + " " + m[3]
		}
	}
	return whitespaceRun.ReplaceAllString(trimmed, " ")
}

// PassTitle builds the document title used when a pass is exported:
// "<name> <date> Coach <coach>", with characters that are unsafe in file
// names removed.
func PassTitle(header Page2Data) string {
	var parts []string
	if name := strings.TrimSpace(header.Name); name != "" {
		parts = append(parts, name)
	}
	if date := formatDateForTitle(header.Date); date != "" {
		parts = append(parts, date)
	}
	if coach := strings.TrimSpace(header.Coach); coach != "" {
		if !strings.HasPrefix(coach, "Coach ") {
			coach = "Coach " + coach
		}
		parts = append(parts, coach)
	}

	title := "Personal Wellness Pass"
	if len(parts) > 0 {
		title = strings.Join(parts, " ")
	}
	title = unsafeTitleChars.ReplaceAllString(title, " ")
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(title, " "))
}
