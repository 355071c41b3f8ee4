package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ecexams-crawler/lib/events"
	"ecexams-crawler/lib/scrapers/ecexams"
	"ecexams-crawler/lib/telemetry"
	"ecexams-crawler/lib/testutil"
	"ecexams-crawler/services/crawler"

	"github.com/stretchr/testify/require"
)

// newTestServer stands up the daemon's mux over a fake archive. The
// returned url is the daemon's, not the archive's.
func newTestServer(t *testing.T, archiveUrl, outputRoot string) string {
	svc := crawler.NewService(ecexams.ClientOptions{
		BaseUrl:   archiveUrl,
		Delay:     time.Millisecond,
		RetryWait: time.Millisecond,
	})
	daemon := httptest.NewServer(newServer(svc, outputRoot).routes())
	t.Cleanup(daemon.Close)
	return daemon.URL
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	res, err := http.Post(url, "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	return res
}

func decodeBody[T any](t *testing.T, res *http.Response) T {
	defer res.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return out
}

// readStream consumes /api/stream until the done event, dropping pings.
// Since done is the job's last payload this also waits out the job.
func readStream(t *testing.T, daemonUrl string) []events.Event {
	res, err := http.Get(daemonUrl + "/api/stream")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	var evs []events.Event
	scanner := bufio.NewScanner(res.Body)
	for scanner.Scan() {
		payload, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var ev events.Event
		require.NoError(t, json.Unmarshal([]byte(payload), &ev))
		if ev.Kind == events.KindPing {
			continue
		}
		evs = append(evs, ev)
		if ev.Kind == events.KindDone {
			break
		}
	}
	require.NoError(t, scanner.Err())
	return evs
}

func countKind(evs []events.Event, kind events.Kind) int {
	n := 0
	for _, ev := range evs {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func TestServerCrawl(t *testing.T) {
	result, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name: "cmd/ecexams-server",
	})
	defer cleanup()

	root := t.TempDir()
	daemon := newTestServer(t, result.BaseUrl, root)

	res, err := http.Get(daemon + "/api/status")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	idle := decodeBody[crawler.Status](t, res)
	require.Equal(t, crawler.Status{State: crawler.StateIdle}, idle)

	res = postJSON(t, daemon+"/api/start", startRequest{})
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	started := decodeBody[startReply](t, res)
	require.NotEmpty(t, started.JobID)

	evs := readStream(t, daemon)
	last := evs[len(evs)-1]
	require.Equal(t, events.KindDone, last.Kind)
	require.NotNil(t, last.Counts)
	require.Equal(t, events.Counts{Downloaded: 3}, *last.Counts)
	require.Equal(t, 3, countKind(evs, events.KindDownload))

	_, err = os.Stat(filepath.Join(
		root, "Grade 7", "2019", "Gr 7 June Common 2019", "English Archive.zip",
	))
	require.NoError(t, err)

	res, err = http.Get(daemon + "/api/status")
	require.NoError(t, err)
	status := decodeBody[crawler.Status](t, res)
	require.False(t, status.Active)
	require.Equal(t, crawler.StateCompleted, status.State)
	require.Equal(t, started.JobID, status.JobID)
	require.Equal(t, events.Counts{Downloaded: 3}, status.Counts)
}

func TestServerStartOverrides(t *testing.T) {
	result, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name: "cmd/ecexams-server",
	})
	defer cleanup()

	// the daemon-wide output root loses to the one in the request
	daemon := newTestServer(t, result.BaseUrl, t.TempDir())

	root := t.TempDir()
	threads := 2
	res := postJSON(t, daemon+"/api/start", startRequest{
		Grades:    []string{"12"},
		Years:     []string{"2023"},
		OutputDir: root,
		Threads:   &threads,
	})
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	res.Body.Close()

	evs := readStream(t, daemon)
	last := evs[len(evs)-1]
	require.NotNil(t, last.Counts)
	require.Equal(t, events.Counts{Downloaded: 2}, *last.Counts)

	entries, err := os.ReadDir(filepath.Join(
		root, "Grade 12", "2023", "Grade 12 November Examination 2023",
	))
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestServerRejectsConcurrentStart(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:cmd/ecexams-server")
	defer cleanup()

	archive := testutil.StandardArchive()
	entered := make(chan struct{}, 3)
	release := make(chan struct{})
	var mu sync.Mutex
	first := true

	outer := http.NewServeMux()
	outer.HandleFunc(testutil.IndexPath, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		wasFirst := first
		first = false
		mu.Unlock()
		if wasFirst {
			entered <- struct{}{}
			<-release
		}
		fmt.Fprint(w, archive.Index)
	})
	outer.Handle("/", archive.Handler())
	site := httptest.NewServer(outer)
	t.Cleanup(site.Close)

	daemon := newTestServer(t, site.URL, t.TempDir())

	res := postJSON(t, daemon+"/api/start", startRequest{DryRun: true})
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	res.Body.Close()
	<-entered

	res = postJSON(t, daemon+"/api/start", startRequest{DryRun: true})
	require.Equal(t, http.StatusConflict, res.StatusCode)
	conflict := decodeBody[errorReply](t, res)
	require.Equal(t, "A job is already running.", conflict.Error)

	close(release)
	evs := readStream(t, daemon)
	last := evs[len(evs)-1]
	require.NotNil(t, last.Counts)
	require.Equal(t, events.Counts{DryRun: 3}, *last.Counts)
}

func TestServerStop(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:cmd/ecexams-server")
	defer cleanup()

	archive := testutil.StandardArchive()
	entered := make(chan struct{}, 3)
	release := make(chan struct{})

	outer := http.NewServeMux()
	outer.HandleFunc("/grade12november2023.htm", func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-release
		fmt.Fprint(w, archive.Pages["/grade12november2023.htm"])
	})
	outer.Handle("/", archive.Handler())
	site := httptest.NewServer(outer)
	t.Cleanup(site.Close)

	daemon := newTestServer(t, site.URL, t.TempDir())

	res := postJSON(t, daemon+"/api/start", startRequest{})
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	res.Body.Close()
	<-entered

	res = postJSON(t, daemon+"/api/stop", nil)
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	stopping := decodeBody[stopReply](t, res)
	require.Equal(t, "stopping", stopping.Status)

	// let the cancellation land before the gated page goes through
	time.Sleep(50 * time.Millisecond)
	close(release)

	evs := readStream(t, daemon)
	last := evs[len(evs)-1]
	require.Equal(t, events.KindDone, last.Kind)
	require.Equal(t, 0, last.Counts.Total())

	res, err := http.Get(daemon + "/api/status")
	require.NoError(t, err)
	status := decodeBody[crawler.Status](t, res)
	require.Equal(t, crawler.StateStopped, status.State)
}

func TestServerStopWhenIdle(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:cmd/ecexams-server")
	defer cleanup()

	daemon := newTestServer(t, "http://127.0.0.1:1", t.TempDir())

	res := postJSON(t, daemon+"/api/stop", nil)
	require.Equal(t, http.StatusConflict, res.StatusCode)
	reply := decodeBody[errorReply](t, res)
	require.Equal(t, "No crawl job is running.", reply.Error)
}

func TestServerStreamWithoutJob(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:cmd/ecexams-server")
	defer cleanup()

	daemon := newTestServer(t, "http://127.0.0.1:1", t.TempDir())

	res, err := http.Get(daemon + "/api/stream")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestServerStartInvalidBody(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:cmd/ecexams-server")
	defer cleanup()

	daemon := newTestServer(t, "http://127.0.0.1:1", t.TempDir())

	res, err := http.Post(daemon+"/api/start", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	reply := decodeBody[errorReply](t, res)
	require.Equal(t, "invalid request body", reply.Error)
}

func TestServerMethodsEnforced(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:cmd/ecexams-server")
	defer cleanup()

	daemon := newTestServer(t, "http://127.0.0.1:1", t.TempDir())

	testCases := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/start"},
		{http.MethodGet, "/api/stop"},
		{http.MethodPost, "/api/status"},
		{http.MethodPost, "/api/stream"},
	}
	for _, test := range testCases {
		t.Run(test.method+" "+test.path, func(t *testing.T) {
			req, err := http.NewRequest(test.method, daemon+test.path, nil)
			require.NoError(t, err)
			res, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			res.Body.Close()
			require.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
		})
	}
}

func TestServerServesUI(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:cmd/ecexams-server")
	defer cleanup()

	daemon := newTestServer(t, "http://127.0.0.1:1", t.TempDir())

	res, err := http.Get(daemon + "/")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "text/html; charset=utf-8", res.Header.Get("Content-Type"))

	page, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Contains(t, string(page), "ECExams Crawler")

	res, err = http.Get(daemon + "/nosuchpage")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestStartRequestThreadsOptional(t *testing.T) {
	var absent startRequest
	require.NoError(t, json.Unmarshal([]byte(`{"grades":["12"]}`), &absent))
	require.Nil(t, absent.Threads)

	var zero startRequest
	require.NoError(t, json.Unmarshal([]byte(`{"threads":0}`), &zero))
	require.NotNil(t, zero.Threads)
	require.Equal(t, 0, *zero.Threads)
}
