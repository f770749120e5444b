// Package monitor defines the domain model shared by the change-monitoring
// pipeline: targets, snapshots, verdicts, change records, fetch jobs, the
// collaborator interfaces the core calls, and the fetch error taxonomy.
package monitor
