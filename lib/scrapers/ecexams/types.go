// Package ecexams scrapes the Eastern Cape Department of Education
// examination-papers archive: a static index page listing exam sessions,
// each with its own sub-page of downloadable papers and memos.
package ecexams

import (
	"slices"

	"ecexams-crawler/lib/textutil"
)

// DefaultBaseUrl is the archive root; the index page hangs directly off it.
const (
	DefaultBaseUrl = "https://www.ecexams.co.za"
	indexPage      = "ExaminationPapers.htm"
)

// ExamSession is one listed examination sitting and its sub-page of
// documents. Immutable once extracted; descriptors reference it read-only.
type ExamSession struct {
	Url   string
	Title string
	Grade string
	Year  string
}

// FileDescriptor is one downloadable artifact discovered under a session.
type FileDescriptor struct {
	Url      string
	Filename string
	Session  *ExamSession
}

// Filters narrow a crawl. Empty slices match everything. Grade filters
// match by case-insensitive substring so "7" and "Grade 7" both hit the
// label "Grade 7"; year filters match exactly, since year labels have no
// variant forms.
type Filters struct {
	Grades []string `json:"grades"`
	Years  []string `json:"years"`
}

func (f Filters) MatchGrade(grade string) bool {
	return len(f.Grades) == 0 || textutil.MatchName(grade, f.Grades)
}

func (f Filters) MatchYear(year string) bool {
	return len(f.Years) == 0 || slices.Contains(f.Years, year)
}
