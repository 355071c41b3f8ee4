package ecexams

import (
	"regexp"
	"strconv"
	"strings"
)

// labels used when no classification rule matches
const (
	GradeOther  = "Other"
	YearUnknown = "Unknown Year"
)

var (
	gradeRegex = regexp.MustCompile(`gr(?:ade)?\.?\s*(\d+)`)
	yearRegex  = regexp.MustCompile(`\b20\d{2}\b`)
)

// InferGrade maps free text (usually link text joined with its href) to a
// grade label. The rules are a precedence chain, first match wins:
//
//  1. an explicit "grade N" / "gr N" / "gr. N" token
//  2. GEC certificate wording
//  3. annual national assessment wording
//
// Anything else is GradeOther.
func InferGrade(text string) string {
	text = strings.ToLower(text)

	if m := gradeRegex.FindStringSubmatch(text); m != nil {
		return "Grade " + m[1]
	}
	if strings.Contains(text, "gec") ||
		strings.Contains(text, "general education certificate") {
		return "Grade 9 (GEC)"
	}
	if strings.Contains(text, "annual national assessment") ||
		strings.Contains(text, " ana") {
		return "ANA (Grades 1-6 & 9)"
	}
	return GradeOther
}

// InferYear returns the first four-digit 20xx token, or YearUnknown.
func InferYear(text string) string {
	if m := yearRegex.FindString(text); m != "" {
		return m
	}
	return YearUnknown
}

// inferYearPreferring tries the link text before the href: visible text is
// usually more specific than the target path.
func inferYearPreferring(text, href string) string {
	if year := InferYear(text); year != YearUnknown {
		return year
	}
	return InferYear(href)
}

// ExpandGradeFilters maps user-supplied grade values onto the labels
// InferGrade produces: bare numbers become "Grade N" so that "12" matches
// "Grade 12" rather than every label containing a 12. Anything else is
// kept as a substring pattern; blanks are dropped.
func ExpandGradeFilters(values []string) []string {
	var filters []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, err := strconv.Atoi(v); err == nil {
			v = "Grade " + v
		}
		filters = append(filters, v)
	}
	return filters
}

// CleanYearFilters trims user-supplied year values and drops blanks.
// Matching itself stays exact.
func CleanYearFilters(values []string) []string {
	var filters []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		filters = append(filters, v)
	}
	return filters
}
