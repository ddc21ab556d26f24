// Package worker hosts the asynq task handlers: mirroring accepted artifacts
// to the archive tier and sweeping crash leftovers out of the storage root.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/dkoval/imagevault/internal/archive"
	"github.com/dkoval/imagevault/internal/queue"
	"github.com/dkoval/imagevault/internal/upload"
)

// sweepGrace protects files still being written by a concurrent request from
// the janitor.
const sweepGrace = time.Hour

// Processor is plugged into the asynq worker loop.
type Processor struct {
	registry *upload.Registry
	resolver *upload.Resolver
	archiver *archive.Archiver
	log      zerolog.Logger
}

// NewProcessor constructs a worker processor. archiver may be nil when no
// archive target is configured; archive tasks then fail loudly.
func NewProcessor(registry *upload.Registry, resolver *upload.Resolver, archiver *archive.Archiver, log zerolog.Logger) *Processor {
	return &Processor{registry: registry, resolver: resolver, archiver: archiver, log: log}
}

// Handler registers the task handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ArchiveArtifactTask, p.handleArchive)
	mux.HandleFunc(queue.SweepStorageTask, p.handleSweep)
	return mux
}

func (p *Processor) handleArchive(ctx context.Context, task *asynq.Task) error {
	var payload queue.ArchivePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	path, err := p.resolver.Locate(payload.StoredName)
	if err != nil {
		return fmt.Errorf("locate %s: %w", payload.StoredName, err)
	}
	if p.archiver == nil {
		return fmt.Errorf("no archive target configured")
	}
	if err := p.archiver.Put(ctx, payload.StoredName, path, payload.ContentType); err != nil {
		p.log.Error().Err(err).Str("artifact", payload.ArtifactID).Msg("archive upload failed")
		return err
	}
	p.log.Info().Str("artifact", payload.ArtifactID).Str("object", payload.StoredName).Msg("artifact archived")
	return nil
}

// handleSweep removes files under the storage root that could only be crash
// leftovers: empty files, files with unregistered extensions, and files whose
// content no longer matches the magic number implied by their extension.
func (p *Processor) handleSweep(ctx context.Context, task *asynq.Task) error {
	entries, err := os.ReadDir(p.resolver.Root())
	if err != nil {
		return fmt.Errorf("read storage root: %w", err)
	}
	var removed int
	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) < sweepGrace {
			continue
		}
		path, err := p.resolver.Locate(entry.Name())
		if err != nil {
			continue
		}
		if p.unvalidated(path, entry.Name(), info.Size()) {
			if err := os.Remove(path); err != nil {
				p.log.Warn().Err(err).Str("file", entry.Name()).Msg("sweep remove failed")
				continue
			}
			removed++
			p.log.Info().Str("file", entry.Name()).Msg("swept unvalidated file")
		}
	}
	p.log.Info().Int("removed", removed).Msg("storage sweep finished")
	return nil
}

func (p *Processor) unvalidated(path, name string, size int64) bool {
	if size == 0 {
		return true
	}
	rule, ok := p.registry.Lookup(filepath.Ext(name))
	if !ok {
		return true
	}
	f, err := os.Open(path)
	if err != nil {
		return false // can't inspect, leave it alone
	}
	defer f.Close()
	prefix := make([]byte, upload.SniffLen)
	n, err := io.ReadFull(f, prefix)
	if err != nil && err != io.ErrUnexpectedEOF {
		return false
	}
	return !upload.MatchesFormat(prefix[:n], rule)
}
