package pipeline

import "github.com/xxxsen/voxnote/internal/model"

// stageSpec ties a pipeline stage to its place in the note state graph:
// the checkpoint it starts from, the in-flight state while the adapter
// call runs, the terminal failure state, and the stage that follows.
type stageSpec struct {
	stage     string
	from      string
	inFlight  string
	failed    string
	nextStage string
}

var stageSpecs = map[string]stageSpec{
	model.StageTranscribe: {
		stage:     model.StageTranscribe,
		from:      model.NoteStatusUploaded,
		inFlight:  model.NoteStatusTranscribing,
		failed:    model.NoteStatusFailedTranscribing,
		nextStage: model.StageAnalyze,
	},
	model.StageAnalyze: {
		stage:     model.StageAnalyze,
		from:      model.NoteStatusTranscribed,
		inFlight:  model.NoteStatusAnalyzing,
		failed:    "", // analysis failure degrades, never halts
		nextStage: model.StageEmbed,
	},
	model.StageEmbed: {
		stage:     model.StageEmbed,
		from:      model.NoteStatusEmbeddingPending,
		inFlight:  model.NoteStatusEmbedding,
		failed:    model.NoteStatusFailedEmbedding,
		nextStage: "",
	},
}

func specFor(stage string) (stageSpec, bool) {
	spec, ok := stageSpecs[stage]
	return spec, ok
}

// stageForCheckpoint maps a resting note status onto the stage that should
// run next, used by the reconciler to restart notes whose job went missing.
func stageForCheckpoint(status string) (string, bool) {
	switch status {
	case model.NoteStatusUploaded:
		return model.StageTranscribe, true
	case model.NoteStatusTranscribed:
		return model.StageAnalyze, true
	case model.NoteStatusAnalyzed, model.NoteStatusEmbeddingPending:
		return model.StageEmbed, true
	}
	return "", false
}
