package model

const (
	NoteStatusUploaded           = "uploaded"
	NoteStatusTranscribing       = "transcribing"
	NoteStatusTranscribed        = "transcribed"
	NoteStatusAnalyzing          = "analyzing"
	NoteStatusAnalyzed           = "analyzed"
	NoteStatusEmbeddingPending   = "embedding_pending"
	NoteStatusEmbedding          = "embedding"
	NoteStatusIndexed            = "indexed"
	NoteStatusFailedTranscribing = "failed_transcribing"
	NoteStatusFailedEmbedding    = "failed_embedding"
)

const (
	ErrorKindTransient = "transient"
	ErrorKindPermanent = "permanent"
)

type Note struct {
	ID                string   `json:"id"`
	OwnerID           string   `json:"owner_id"`
	Status            string   `json:"status"`
	AudioRef          string   `json:"audio_ref"`
	Transcript        string   `json:"transcript"`
	Summary           string   `json:"summary"`
	Tags              []string `json:"tags"`
	EmbedModelVersion string   `json:"embed_model_version"`
	AnalysisDegraded  bool     `json:"analysis_degraded"`
	Notified          bool     `json:"notified"`
	ErrorKind         string   `json:"error_kind"`
	ErrorMessage      string   `json:"error_message"`
	RetryCount        int      `json:"retry_count"`
	Ctime             int64    `json:"ctime"`
	Mtime             int64    `json:"mtime"`
}

// NoteTerminal reports whether the status accepts an external edit.
// Edits are only legal once the pipeline is at rest.
func NoteTerminal(status string) bool {
	switch status {
	case NoteStatusIndexed, NoteStatusFailedTranscribing, NoteStatusFailedEmbedding:
		return true
	}
	return false
}
