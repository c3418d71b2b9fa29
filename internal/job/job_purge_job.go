package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/voxnote/internal/repo"
)

// JobPurgeJob deletes terminal pipeline jobs older than the retention
// window. Outstanding jobs are never touched.
type JobPurgeJob struct {
	jobs     *repo.JobRepo
	keepDays int
}

func NewJobPurgeJob(jobs *repo.JobRepo, keepDays int) *JobPurgeJob {
	if keepDays <= 0 {
		keepDays = 7
	}
	return &JobPurgeJob{jobs: jobs, keepDays: keepDays}
}

func (j *JobPurgeJob) Name() string {
	return "job_purge"
}

func (j *JobPurgeJob) Run(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -j.keepDays).UnixMilli()
	deleted, err := j.jobs.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		logutil.GetLogger(ctx).Info("purged terminal jobs",
			zap.Int64("count", deleted),
			zap.Int("keep_days", j.keepDays))
	}
	return nil
}
