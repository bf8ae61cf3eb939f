package models

import "time"

// JobChunk status codes. Job-level status uses the same values but is
// always derived from the set of child codes, never written directly.
const (
	StatusFailed   = -1
	StatusPending  = 0
	StatusComplete = 1
)

// Job is one processing request: a target area, a requester, and one
// JobChunk per chunk selected for processing. StatusCode is a cached copy
// of the fold over the child JobChunk codes; it is recomputed whenever a
// child status changes.
type Job struct {
	ID                   uint   `gorm:"primaryKey;autoIncrement"`
	UUID                 string `gorm:"size:36;uniqueIndex;not null"`
	Requester            string `gorm:"size:64;index"`
	ModelConfigurationID uint   `gorm:"index;not null"`
	AreaWKT              string `gorm:"type:text;not null"`

	StatusCode    int    `gorm:"not null;default:0"`
	StatusMessage string `gorm:"size:512"`

	CreatedAt   time.Time
	CompletedAt *time.Time

	ModelConfiguration ModelConfiguration `gorm:"foreignKey:ModelConfigurationID"`
	JobChunks          []JobChunk         `gorm:"foreignKey:JobID"`
}

// JobChunk is one unit of dispatched work: the execution record and status
// holder for one chunk within one job. Created at job-creation time,
// mutated only by status callbacks from the worker that claimed it, never
// deleted. UUID doubles as the work-item id on the queue.
type JobChunk struct {
	ID      uint   `gorm:"primaryKey;autoIncrement"`
	UUID    string `gorm:"size:36;uniqueIndex;not null"`
	JobID   uint   `gorm:"index;not null"`
	ChunkID uint   `gorm:"index;not null"`

	StatusCode    int    `gorm:"not null;default:0"`
	StatusMessage string `gorm:"size:512"`
	PercentDone   int    `gorm:"not null;default:0"`
	// Log is the full run log; each status callback replaces it wholesale.
	Log string `gorm:"type:text"`

	CreatedAt   time.Time
	EnqueuedAt  *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	Job   Job   `gorm:"foreignKey:JobID"`
	Chunk Chunk `gorm:"foreignKey:ChunkID"`
}

// StatusName returns the human-readable name for a JobChunk status code.
func StatusName(code int) string {
	switch code {
	case StatusFailed:
		return "FAILED"
	case StatusComplete:
		return "COMPLETE"
	default:
		return "PROCESSING"
	}
}
