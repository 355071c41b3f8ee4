package main

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ecexams-crawler/lib/events"
	"ecexams-crawler/lib/scrapers/ecexams"
	"ecexams-crawler/services/crawler"
)

//go:embed ui.html
var uiHtml []byte

// pingInterval spaces keepalives on the event stream so the browser can
// tell a quiet crawl from a dead connection.
const pingInterval = time.Second

type server struct {
	crawler    *crawler.Service
	outputRoot string
}

func newServer(svc *crawler.Service, outputRoot string) *server {
	return &server{crawler: svc, outputRoot: outputRoot}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/start", s.handleStart)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/stream", s.handleStream)
	mux.HandleFunc("/api/status", s.handleStatus)
	return mux
}

type startRequest struct {
	Grades    []string `json:"grades"`
	Years     []string `json:"years"`
	OutputDir string   `json:"output_dir"`
	DryRun    bool     `json:"dry_run"`
	// Threads is a pointer so absent and zero stay distinguishable:
	// absent means the default, zero is clamped up to one.
	Threads *int `json:"threads"`
}

type startReply struct {
	JobID string `json:"job_id"`
}

type stopReply struct {
	Status string `json:"status"`
}

type errorReply struct {
	Error string `json:"error"`
}

// handleIndex serves the embedded single-page UI.
//
// Method: GET
// Path:   /
func (s *server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(uiHtml)
}

// handleStart launches a crawl job.
//
// Method: POST
// Path:   /api/start
// Example:
//
//	curl -X POST localhost:8080/api/start \
//	  -d '{"grades":["12"],"years":["2024"],"dry_run":true,"threads":4}'
func (s *server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, errorReply{Error: "invalid request body"}, http.StatusBadRequest)
		return
	}

	config := crawler.JobConfig{
		Filters: ecexams.Filters{
			Grades: ecexams.ExpandGradeFilters(req.Grades),
			Years:  ecexams.CleanYearFilters(req.Years),
		},
		OutputRoot:  strings.TrimSpace(req.OutputDir),
		DryRun:      req.DryRun,
		Concurrency: crawler.DefaultConcurrency,
	}
	if config.OutputRoot == "" {
		config.OutputRoot = s.outputRoot
	}
	if req.Threads != nil {
		config.Concurrency = *req.Threads
	}

	job, err := s.crawler.Start(r.Context(), config)
	if errors.Is(err, crawler.ErrJobActive) {
		writeJSON(w, errorReply{Error: "A job is already running."}, http.StatusConflict)
		return
	}
	if err != nil {
		writeJSON(w, errorReply{Error: err.Error()}, http.StatusInternalServerError)
		return
	}

	writeJSON(w, startReply{JobID: job.ID}, http.StatusAccepted)
}

// handleStop requests a cooperative stop of the running job: in-flight
// downloads finish, nothing new starts.
//
// Method: POST
// Path:   /api/stop
func (s *server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.crawler.Stop(); errors.Is(err, crawler.ErrNoJob) {
		writeJSON(w, errorReply{Error: "No crawl job is running."}, http.StatusConflict)
		return
	}
	writeJSON(w, stopReply{Status: "stopping"}, http.StatusAccepted)
}

// handleStatus reports the crawl state for pollers.
//
// Method: GET
// Path:   /api/status
// Example:
//
//	curl localhost:8080/api/status
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.crawler.Status(), http.StatusOK)
}

// handleStream replays the current job's narration as server-sent events
// until the job closes its stream; the done event is the last payload.
// The stream is single-consumer: the UI opens exactly one EventSource.
//
// Method: GET
// Path:   /api/stream
func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	job := s.crawler.Active()
	if job == nil {
		http.Error(w, "no job to stream", http.StatusNotFound)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-job.Events():
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
		case <-ping.C:
			if err := writeEvent(w, events.Event{Kind: events.KindPing}); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w io.Writer, ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

func writeJSON(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
