// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import "time"

// RegionIngestTask represents one region folder to be ingested by a worker.
type RegionIngestTask struct {
	RunID      string    `json:"run_id"`
	Region     string    `json:"region"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// AttemptKey returns the key used to count failed attempts of this task.
func (t RegionIngestTask) AttemptKey() string {
	return "kafka:attempts:" + t.RunID + ":" + t.Region
}
