// Package testutil runs miniature examination archives over httptest so
// crawler and daemon tests never touch the real site.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"ecexams-crawler/lib/telemetry"
)

// IndexPath is where the archive index lives, matching the real site.
const IndexPath = "/ExaminationPapers.htm"

// Archive declares the content of a fake examination archive: the index
// page, the session pages it links to, and the files they serve. Paths
// not declared anywhere return 404, which is how missing documents on
// the real site behave.
type Archive struct {
	// Index is the HTML served at IndexPath.
	Index string
	// Pages maps request paths ("/gr7june2019.htm") to session HTML.
	Pages map[string]string
	// Files maps request paths ("/papers/MathP1.pdf") to payloads.
	Files map[string][]byte
}

// Handler builds the archive's routing table. Exposed separately so
// tests can wrap individual routes, e.g. to gate or fail them.
func (a Archive) Handler() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(IndexPath, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, a.Index)
	})
	for path, html := range a.Pages {
		html := html
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, html)
		})
	}
	for path, body := range a.Files {
		body := body
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			w.Write(body)
		})
	}
	return mux
}

type ServiceParams struct {
	Name string
	// if unspecified, it will serve StandardArchive
	Archive *Archive
}

type ServiceResult struct {
	// BaseUrl points at the fake archive, ready for ClientOptions.
	BaseUrl string
}

// SetupService wires telemetry and a fake archive for one test. The
// returned cleanup flushes telemetry; the server itself closes with the
// test.
func SetupService(t testing.TB, params ServiceParams) (ServiceResult, func()) {
	cleanup := telemetry.SetupForTesting(t, fmt.Sprintf("test:%s", params.Name))

	archive := params.Archive
	if archive == nil {
		standard := StandardArchive()
		archive = &standard
	}
	server := httptest.NewServer(archive.Handler())
	t.Cleanup(server.Close)

	return ServiceResult{
		BaseUrl: server.URL,
	}, cleanup
}

// StandardArchive is a small but representative site: two sessions across
// two grades and years, three downloadable files, and links of every kind
// the crawler is expected to skip.
func StandardArchive() Archive {
	return Archive{
		Index: `<html><body>
<a href="grade12november2023.htm">Grade 12 November Examination 2023</a>
<a href="gr7june2019.htm">Gr 7 June Common 2019</a>
<a href="mailto:exams@ecexams.co.za">Mail the examinations unit</a>
<a href="#top">Back to the top of the page</a>
</body></html>`,
		Pages: map[string]string{
			"/grade12november2023.htm": `<html><body>
<a href="papers/2023/MathP1.pdf">Mathematics Paper 1</a>
<a href="papers/2023/MathP1Memo.pdf">Mathematics Paper 1 Memo</a>
<a href="notes.html">Examiner notes page</a>
</body></html>`,
			"/gr7june2019.htm": `<html><body>
<a href="archives/english2019.zip">English Archive</a>
<a href="style.css">Stylesheet link</a>
</body></html>`,
		},
		Files: map[string][]byte{
			"/papers/2023/MathP1.pdf":     []byte("%PDF-1.4 mathematics paper one"),
			"/papers/2023/MathP1Memo.pdf": []byte("%PDF-1.4 mathematics paper one memo"),
			"/archives/english2019.zip":   []byte("PK archive of english papers"),
		},
	}
}
