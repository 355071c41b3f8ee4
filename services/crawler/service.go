// Package crawler runs crawl jobs against the examination archive: index
// extraction, session scanning, and the bounded download pool, narrated
// through an event stream. At most one job runs per process.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ecexams-crawler/lib/events"
	"ecexams-crawler/lib/scrapers/ecexams"

	random "github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/crawler")

// ErrJobActive rejects a start while another job is still running.
var ErrJobActive = errors.New("a crawl job is already running")

// ErrNoJob is returned by Stop when nothing is running.
var ErrNoJob = errors.New("no crawl job is running")

type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateStopped   State = "stopped"
)

const (
	DefaultOutputRoot  = "downloads"
	DefaultConcurrency = 3
	maxConcurrency     = 10
)

// JobConfig describes one crawl.
type JobConfig struct {
	Filters     ecexams.Filters
	OutputRoot  string
	DryRun      bool
	Concurrency int
}

func (c JobConfig) normalize() JobConfig {
	if c.OutputRoot == "" {
		c.OutputRoot = DefaultOutputRoot
	}
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.Concurrency > maxConcurrency {
		c.Concurrency = maxConcurrency
	}
	return c
}

// Job is one crawl from index fetch to the terminal done event.
type Job struct {
	ID     string
	Config JobConfig

	stream *events.Stream
	cancel context.CancelFunc

	mu     sync.Mutex
	state  State
	counts events.Counts
}

// Events yields the job's narration until the stream closes. The done
// event arrives last; the close itself is the end-of-stream signal.
func (j *Job) Events() <-chan events.Event { return j.stream.Events() }

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = s
}

func (j *Job) Counts() events.Counts {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.counts
}

func (j *Job) setCounts(c events.Counts) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.counts = c
}

// Status is a point-in-time view of the service for callers that poll.
type Status struct {
	Active bool          `json:"active"`
	State  State         `json:"state"`
	JobID  string        `json:"job_id,omitempty"`
	Counts events.Counts `json:"counts"`
}

// Service runs at most one crawl job at a time.
type Service struct {
	options ecexams.ClientOptions

	mu     sync.Mutex
	active *Job
}

// NewService keeps options as the template for every job's archive client;
// the per-job event stream is filled in at start.
func NewService(options ecexams.ClientOptions) *Service {
	return &Service{options: options}
}

// Start launches a crawl in the background and returns its job record.
// A second start while one is running fails with ErrJobActive; requests
// are rejected, never queued.
func (s *Service) Start(ctx context.Context, config JobConfig) (*Job, error) {
	_, span := tracer.Start(ctx, "Start")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil && s.active.State() == StateRunning {
		span.SetStatus(codes.Error, "job already running")
		return nil, ErrJobActive
	}

	id, err := random.String(8)
	if err != nil {
		return nil, fmt.Errorf("job id: %w", err)
	}
	span.SetAttributes(attribute.String("job", id))

	// the job outlives the caller's request context; stopping goes
	// through Stop, not through the caller hanging up
	jobCtx, cancel := context.WithCancel(context.Background())

	job := &Job{
		ID:     id,
		Config: config.normalize(),
		stream: events.NewStream(events.DefaultBuffer),
		cancel: cancel,
		state:  StateRunning,
	}
	s.active = job

	options := s.options
	options.Sink = job.stream
	client := ecexams.NewClient(options)

	go job.run(jobCtx, client)
	return job, nil
}

// Stop requests a cooperative stop of the running job: in-flight downloads
// finish, nothing new is dispatched. Returns ErrNoJob when idle.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil || s.active.State() != StateRunning {
		return ErrNoJob
	}
	s.active.cancel()
	return nil
}

// Active returns the most recent job, running or not, nil before the
// first start. Stream observers attach through it.
func (s *Service) Active() *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return Status{State: StateIdle}
	}
	state := s.active.State()
	return Status{
		Active: state == StateRunning,
		State:  state,
		JobID:  s.active.ID,
		Counts: s.active.Counts(),
	}
}

// run drives a crawl to its terminal state. Whatever happens, the stream
// always carries a done event and then closes, so observers terminate.
func (j *Job) run(ctx context.Context, client *ecexams.Client) {
	ctx, span := tracer.Start(ctx, "Job.run")
	defer span.End()
	span.SetAttributes(attribute.String("job", j.ID))

	defer j.stream.Close()
	defer func() {
		if r := recover(); r != nil {
			j.setState(StateFailed)
			j.stream.Emit(events.Error(fmt.Sprintf("internal fault: %v", r)))
			j.stream.Emit(events.Done(j.Counts()))
			span.SetStatus(codes.Error, "panic")
		}
	}()

	sessions, err := client.ExtractIndex(ctx, j.Config.Filters)
	if err != nil {
		j.setState(StateFailed)
		j.stream.Emit(events.Error(fmt.Sprintf("Failed to fetch the index page: %s", err)))
		j.stream.Emit(events.Done(events.Counts{}))
		span.SetStatus(codes.Error, "index unreachable")
		return
	}

	var files []ecexams.FileDescriptor
	for i := range sessions {
		// a stop during scanning takes effect before the next session
		if ctx.Err() != nil {
			break
		}
		files = append(files, client.ExtractSession(ctx, &sessions[i])...)
		j.stream.Emit(events.Scanned(len(files)))
	}
	j.stream.Emit(events.Info(fmt.Sprintf("Found %d files across %d sessions", len(files), len(sessions))))

	counts := j.download(ctx, client, files)
	span.SetAttributes(
		attribute.Int("downloaded", counts.Downloaded),
		attribute.Int("skipped", counts.Skipped),
		attribute.Int("failed", counts.Failed),
		attribute.Int("dry_run", counts.DryRun),
	)

	if ctx.Err() != nil {
		j.setState(StateStopped)
	} else {
		j.setState(StateCompleted)
	}
	j.stream.Emit(events.Done(counts))
}
