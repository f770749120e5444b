// Package main hosts the monitor service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api exposes health, readiness, metrics and target management. Creating a target
//     stores it and queues an immediate first fetch.
//   - Scheduling: internal/scheduler scans active targets every scheduler.interval_seconds and enqueues one
//     job per target whose frequency has elapsed since its last successful check.
//   - Dispatcher & queue: jobs flow through a bounded in-memory queue with delayed delivery and are fanned out
//     to worker.concurrency workers.
//   - Workflow: each worker runs fetch, analyze, persist and notify through internal/workflow. The
//     snapshot and change record are stored before any notification is sent. Profile and
//     organization targets use the structured provider; websites use the colly and chromedp strategies with
//     fallback. Transient provider failures are re-enqueued with a fixed delay, at most retry.max_retries times.
//   - Persistence & fanout: targets, change records and run records go to Postgres when db.dsn is set and to
//     memory otherwise. Raw pages are archived to the configured blob store. Notifications and run events
//     are published to Pub/Sub when a project is configured.
//
// Quick checklist:
//   - Configure env vars with the MONITOR_ prefix, for example MONITOR_PROVIDER_API_KEY,
//     MONITOR_CLASSIFIER_ENABLED and MONITOR_CLASSIFIER_API_KEY, MONITOR_DB_DSN, MONITOR_PUBSUB_PROJECT_ID.
//   - Run locally: go run ./cmd/monitor -config config.yaml (or rely solely on env overrides).
//   - The process drains workers and closes clients on SIGINT or SIGTERM.
package main
