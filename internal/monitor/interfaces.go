package monitor

import (
	"context"
	"io"
	"time"
)

// ProviderAPI fetches structured records for profile and organization targets.
type ProviderAPI interface {
	Fetch(ctx context.Context, target Target) (Snapshot, error)
}

// PageFetcher retrieves a single page using one transport strategy.
type PageFetcher interface {
	Fetch(ctx context.Context, req PageRequest) (PageResponse, error)
}

// SnapshotFetcher obtains a normalized snapshot for any target type.
type SnapshotFetcher interface {
	Fetch(ctx context.Context, target Target) (Snapshot, error)
}

// ShellDetector decides whether a statically fetched page needs rendering.
type ShellDetector interface {
	ShouldPromote(resp PageResponse) bool
}

// ClassificationCollaborator is the external change classifier.
type ClassificationCollaborator interface {
	Classify(ctx context.Context, req ClassifyRequest) (ClassifyResponse, error)
}

// Notifier delivers change notifications. The boolean reports delivery.
type Notifier interface {
	Notify(ctx context.Context, n Notification) (bool, error)
}

// JobScheduler enqueues fetch jobs, optionally after a delay.
// EnqueueAfter must return without waiting for the delay to elapse.
type JobScheduler interface {
	Enqueue(ctx context.Context, job FetchJob) error
	EnqueueAfter(ctx context.Context, job FetchJob, delay time.Duration) error
}

// JobQueue is a JobScheduler that workers can consume from.
type JobQueue interface {
	JobScheduler
	Dequeue(ctx context.Context) (FetchJob, error)
}

// TargetStore persists monitored targets.
type TargetStore interface {
	CreateTarget(ctx context.Context, target Target) error
	GetTarget(ctx context.Context, id string) (Target, error)
	ListTargets(ctx context.Context) ([]Target, error)
	ListActiveTargets(ctx context.Context) ([]Target, error)
	DeactivateTarget(ctx context.Context, id string) error
	// RecordFetch stores the latest snapshot and check time. Last write wins.
	RecordFetch(ctx context.Context, id string, snapshot []byte, checkedAt time.Time) error
}

// ChangeStore persists change records.
type ChangeStore interface {
	CreateChange(ctx context.Context, record ChangeRecord) error
	MarkNotified(ctx context.Context, id string, notified bool) error
	ListChanges(ctx context.Context, targetID string) ([]ChangeRecord, error)
}

// RunStore persists per-job run summaries.
type RunStore interface {
	RecordRun(ctx context.Context, run RunRecord) error
}

// BlobStore archives raw fetched content.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher emits events to a message bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher produces content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock abstracts time for determinism in tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
