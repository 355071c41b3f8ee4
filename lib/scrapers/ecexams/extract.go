package ecexams

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"unicode/utf8"

	"ecexams-crawler/lib/events"
	"ecexams-crawler/lib/htmlutil"
	"ecexams-crawler/lib/textutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// session pages carry a lowercase .htm extension; anything else on the
// index is navigation noise
const sessionPageExt = ".htm"

// links with shorter visible text are icon or spacer links, not sessions
const minLinkText = 5

var fileExtensions = []string{".pdf", ".zip", ".docx"}

// ExtractIndex fetches the archive root and returns the sessions passing
// the filters, deduplicated by resolved URL in first-seen order. An
// unreachable index fails the whole crawl; there is no usable partial
// index.
func (c *Client) ExtractIndex(ctx context.Context, filters Filters) ([]ExamSession, error) {
	ctx, span := tracer.Start(ctx, "ExtractIndex")
	defer span.End()

	indexUrl := c.baseUrl + "/" + indexPage
	c.sink.Emit(events.Info("Fetching examination index..."))

	body, err := c.Get(ctx, indexUrl)
	if err != nil {
		span.SetStatus(codes.Error, "index unreachable")
		return nil, fmt.Errorf("index: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("parse index: %w", err)
	}
	base, err := url.Parse(indexUrl)
	if err != nil {
		return nil, fmt.Errorf("parse index url: %w", err)
	}

	var sessions []ExamSession
	seen := map[string]bool{}
	for _, anchor := range htmlutil.GetAnchors(ctx, doc.Find("a")) {
		resolved, ok := resolveSessionLink(base, anchor)
		if !ok {
			continue
		}

		grade := InferGrade(anchor.Text + " " + anchor.Href)
		year := inferYearPreferring(anchor.Text, anchor.Href)
		if !filters.MatchGrade(grade) || !filters.MatchYear(year) {
			continue
		}
		if seen[resolved] {
			continue
		}
		seen[resolved] = true

		sessions = append(sessions, ExamSession{
			Url:   resolved,
			Title: textutil.SanitizeName(anchor.Text),
			Grade: grade,
			Year:  year,
		})
	}

	span.SetAttributes(attribute.Int("sessions", len(sessions)))
	c.sink.Emit(events.Info(fmt.Sprintf("Found %d matching exam sessions", len(sessions))))
	return sessions, nil
}

// resolveSessionLink applies the index exclusion rules and resolves the
// anchor to an absolute URL.
func resolveSessionLink(base *url.URL, anchor htmlutil.Anchor) (string, bool) {
	href := anchor.Href
	if href == "" ||
		strings.HasPrefix(href, "mailto:") ||
		strings.HasPrefix(href, "#") ||
		strings.Contains(href, "bit.ly") {
		return "", false
	}
	if !strings.HasSuffix(href, sessionPageExt) {
		return "", false
	}
	if utf8.RuneCountInString(strings.TrimSpace(anchor.Text)) < minLinkText {
		return "", false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(ref)
	if resolved.String() == base.String() {
		return "", false
	}
	return resolved.String(), true
}

// ExtractSession fetches one session page and returns its document links,
// deduplicated by resolved URL. Failures are non-fatal: the session just
// contributes nothing and the crawl moves on.
func (c *Client) ExtractSession(ctx context.Context, session *ExamSession) []FileDescriptor {
	ctx, span := tracer.Start(ctx, "ExtractSession")
	defer span.End()
	span.SetAttributes(attribute.String("session", session.Title))

	c.sink.Emit(events.Scan(fmt.Sprintf("Scanning: %s", session.Title)))

	body, err := c.Get(ctx, session.Url)
	if err != nil {
		span.SetStatus(codes.Error, "session unreachable")
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return nil
	}
	base, err := url.Parse(session.Url)
	if err != nil {
		span.RecordError(err)
		return nil
	}

	var files []FileDescriptor
	seen := map[string]bool{}
	for _, anchor := range htmlutil.GetAnchors(ctx, doc.Find("a")) {
		if anchor.Href == "" {
			continue
		}
		ref, err := url.Parse(anchor.Href)
		if err != nil {
			continue
		}
		resolved := base.ResolveReference(ref)

		ext := matchedExtension(resolved.Path)
		if ext == "" || seen[resolved.String()] {
			continue
		}
		seen[resolved.String()] = true

		files = append(files, FileDescriptor{
			Url:      resolved.String(),
			Filename: fileName(anchor.Text, resolved, ext),
			Session:  session,
		})
	}

	span.SetAttributes(attribute.Int("files", len(files)))
	return files
}

func matchedExtension(p string) string {
	lower := strings.ToLower(p)
	for _, ext := range fileExtensions {
		if strings.HasSuffix(lower, ext) {
			return ext
		}
	}
	return ""
}

// fileName derives a download filename from the link text, falling back to
// the last URL path segment, percent-escapes intact, when the text is
// empty. The extension is appended when the name does not already carry it.
func fileName(text string, resolved *url.URL, ext string) string {
	name := textutil.SanitizeName(text)
	if name == "" {
		name = textutil.SanitizeName(path.Base(resolved.EscapedPath()))
	}
	if !strings.HasSuffix(strings.ToLower(name), ext) {
		name += ext
	}
	return name
}
