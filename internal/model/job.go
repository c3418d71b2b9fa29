package model

const (
	StageTranscribe = "transcribe"
	StageAnalyze    = "analyze"
	StageEmbed      = "embed"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusDone      = "done"
	JobStatusCancelled = "cancelled"
	JobStatusFailed    = "failed"
)

// User-initiated work always dispatches ahead of maintenance reindexing.
const (
	PriorityUser        = 0
	PriorityMaintenance = 10
)

type Job struct {
	ID            string `json:"id"`
	NoteID        string `json:"note_id"`
	Stage         string `json:"stage"`
	Priority      int    `json:"priority"`
	Attempt       int    `json:"attempt"`
	Status        string `json:"status"`
	NextAttemptAt int64  `json:"next_attempt_at"`
	LastError     string `json:"last_error"`
	Ctime         int64  `json:"ctime"`
	Mtime         int64  `json:"mtime"`
}

func JobTerminal(status string) bool {
	switch status {
	case JobStatusDone, JobStatusCancelled, JobStatusFailed:
		return true
	}
	return false
}
