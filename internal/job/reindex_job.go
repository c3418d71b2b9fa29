package job

import (
	"context"

	"github.com/xxxsen/voxnote/internal/pipeline"
)

type ReindexJob struct {
	reindexer *pipeline.Reindexer
}

func NewReindexJob(reindexer *pipeline.Reindexer) *ReindexJob {
	return &ReindexJob{reindexer: reindexer}
}

func (j *ReindexJob) Name() string {
	return "embedding_reindex"
}

func (j *ReindexJob) Run(ctx context.Context) error {
	if j.reindexer == nil {
		return nil
	}
	return j.reindexer.Run(ctx)
}
