package model

type EmbeddingRecord struct {
	NoteID       string    `json:"note_id"`
	OwnerID      string    `json:"owner_id"`
	ModelVersion string    `json:"model_version"`
	Vector       []float32 `json:"vector"`
	Ctime        int64     `json:"ctime"`
}
