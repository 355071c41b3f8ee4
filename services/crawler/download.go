package crawler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"ecexams-crawler/lib/events"
	"ecexams-crawler/lib/scrapers/ecexams"
	"ecexams-crawler/lib/textutil"
)

type outcome int

const (
	outcomeDownloaded outcome = iota
	outcomeSkipped
	outcomeFailed
	outcomeDryRun
)

// destPath is the deterministic location of a descriptor on disk:
// root/<grade>/<year>/<session title>/<filename>.
func destPath(root string, fd ecexams.FileDescriptor) string {
	return filepath.Join(
		root,
		textutil.SanitizeName(fd.Session.Grade),
		fd.Session.Year,
		textutil.SanitizeName(fd.Session.Title),
		fd.Filename,
	)
}

// download drains the descriptor list through a bounded worker pool.
// The stop context is consulted only between dispatches, so an in-flight
// transfer always finishes. A single collector folds worker outcomes into
// the counts and emits progress, one event per completed descriptor.
func (j *Job) download(ctx context.Context, client *ecexams.Client, files []ecexams.FileDescriptor) events.Counts {
	total := len(files)
	jobs := make(chan ecexams.FileDescriptor)
	results := make(chan outcome, total)

	var wg sync.WaitGroup
	for w := 0; w < j.Config.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// detached from the stop signal: dispatched transfers
			// run to completion
			work := context.WithoutCancel(ctx)
			for fd := range jobs {
				results <- j.fetchOne(work, client, fd)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, fd := range files {
			// a select alone could still hand out work after a stop
			// when a worker is already waiting
			if ctx.Err() != nil {
				return
			}
			select {
			case jobs <- fd:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var counts events.Counts
	done := 0
	for result := range results {
		done++
		switch result {
		case outcomeDownloaded:
			counts.Downloaded++
		case outcomeSkipped:
			counts.Skipped++
		case outcomeFailed:
			counts.Failed++
		case outcomeDryRun:
			counts.DryRun++
		}
		j.setCounts(counts)
		j.stream.Emit(events.Progress(done, total))
	}
	return counts
}

// fetchOne resolves a single descriptor to its outcome. Failures are
// reported on the stream and folded into the counts, never returned.
func (j *Job) fetchOne(ctx context.Context, client *ecexams.Client, fd ecexams.FileDescriptor) outcome {
	dest := destPath(j.Config.OutputRoot, fd)

	if j.Config.DryRun {
		j.stream.Emit(events.DryRun(fmt.Sprintf("[dry-run] %s", dest)))
		return outcomeDryRun
	}

	if _, err := os.Stat(dest); err == nil {
		j.stream.Emit(events.Info(fmt.Sprintf("Skipping (already exists): %s", fd.Filename)))
		return outcomeSkipped
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		j.stream.Emit(events.Error(fmt.Sprintf("Cannot create %s: %s", filepath.Dir(dest), err)))
		return outcomeFailed
	}

	body, err := client.Get(ctx, fd.Url)
	if err != nil {
		j.stream.Emit(events.Error(fmt.Sprintf("Failed to download %s: %s", fd.Filename, err)))
		return outcomeFailed
	}

	if err := writeFileAtomic(dest, body); err != nil {
		j.stream.Emit(events.Error(fmt.Sprintf("Cannot write %s: %s", dest, err)))
		return outcomeFailed
	}

	j.stream.Emit(events.Download(fmt.Sprintf("Downloaded: %s", fd.Filename)))
	return outcomeDownloaded
}

// writeFileAtomic stages the payload next to dest and renames it into
// place, so a re-run never sees a half-written file as already present.
func writeFileAtomic(dest string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
