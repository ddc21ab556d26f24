// Package queue defines the background task types shared between the API
// server (producer) and the worker (consumer).
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// ArchiveArtifactTask mirrors an accepted artifact to object storage.
	ArchiveArtifactTask = "artifact:archive"
	// SweepStorageTask removes crash leftovers from the storage root.
	SweepStorageTask = "storage:sweep"
)

// ArchivePayload identifies the stored file the worker should mirror.
type ArchivePayload struct {
	ArtifactID  string `json:"artifact_id"`
	StoredName  string `json:"stored_name"`
	ContentType string `json:"content_type"`
}

// EnqueueArchive schedules an archive job for a freshly stored artifact.
func EnqueueArchive(ctx context.Context, client *asynq.Client, payload ArchivePayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(ArchiveArtifactTask, data)
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("enqueue archive task: %w", err)
	}
	return nil
}

// NewSweepTask builds a sweep task. It is shared by the one-off enqueue at
// worker startup and the periodic scheduler registration.
func NewSweepTask() *asynq.Task {
	return asynq.NewTask(SweepStorageTask, nil)
}

// EnqueueSweep schedules a janitor pass over the storage root.
func EnqueueSweep(ctx context.Context, client *asynq.Client) error {
	if _, err := client.EnqueueContext(ctx, NewSweepTask(), asynq.MaxRetry(1)); err != nil {
		return fmt.Errorf("enqueue sweep task: %w", err)
	}
	return nil
}
