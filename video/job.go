package video

import (
	"context"

	"github.com/Tutortoise/object-detection-service/detections"
	"github.com/Tutortoise/object-detection-service/jobs"
	"github.com/Tutortoise/object-detection-service/models"
)

// JobHandler adapts the pipeline to the job dispatcher. The confidence
// threshold comes from the job; the IoU threshold from defaults.
func (p *Pipeline) JobHandler(defaults detections.Params) jobs.Handler {
	return func(ctx context.Context, job jobs.Job, report func(models.Progress)) (*models.VideoResult, error) {
		params := detections.Params{ConfThreshold: job.ConfThreshold, IoUThreshold: defaults.IoUThreshold}
		return p.Process(ctx, job.InputPath, job.OutputPath, params, report)
	}
}
