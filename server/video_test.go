package server

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Tutortoise/object-detection-service/config"
	"github.com/Tutortoise/object-detection-service/errs"
	"github.com/Tutortoise/object-detection-service/jobs"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uploadVideo(t *testing.T, env *testEnv, content string, values map[string]string) UploadVideoResponse {
	t.Helper()
	rec := env.postFile(t, "/upload_video", "video", "clip.mp4", []byte(content), values)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[UploadVideoResponse](t, rec)
}

func waitForStatus(t *testing.T, env *testEnv, id, status string) {
	t.Helper()
	require.Eventually(t, func() bool {
		rec := env.get(t, "/video_status/"+id)
		return decode[map[string]any](t, rec)["status"] == status
	}, 5*time.Second, 5*time.Millisecond)
}

func TestUploadVideo(t *testing.T) {
	env := newTestEnv(t, config.ModeVideo, readyModels(), nil)

	resp := uploadVideo(t, env, "frames", map[string]string{"confidence": "0.4"})
	assert.True(t, resp.Success)
	_, err := uuid.Parse(resp.VideoID)
	require.NoError(t, err)
	assert.Equal(t, "static/uploads/"+resp.VideoID+".mp4", resp.UploadPath)
	assert.Equal(t, "static/results/output_"+resp.VideoID+".mp4", resp.OutputPath)
	assert.InDelta(t, 0.4, resp.ConfThreshold, 1e-6)

	job, err := env.jobs.Get(t.Context(), resp.VideoID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateUploaded, job.State)

	rec := env.get(t, "/video_status/"+resp.VideoID)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[ProcessingStatus](t, rec)
	assert.Equal(t, StatusProcessing, status.Status)
	assert.Equal(t, string(jobs.StateUploaded), status.State)
}

func TestUploadVideo_MissingUpload(t *testing.T) {
	env := newTestEnv(t, config.ModeVideo, readyModels(), nil)

	rec := env.postFile(t, "/upload_video", "", "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, MsgNoVideo, decode[ErrorResponse](t, rec).Error)

	rec = env.postFile(t, "/upload_video", "video", "", []byte("x"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, MsgNoVideoSelected, decode[ErrorResponse](t, rec).Error)
}

func TestProcessVideo_StatusMovesFromProcessingToComplete(t *testing.T) {
	codec := &fakeCodec{frames: 12, width: 32, height: 24, gate: make(chan struct{})}
	env := newTestEnv(t, config.ModeVideo, readyModels(), codec)
	up := uploadVideo(t, env, "frames", nil)

	rec := env.get(t, "/process_video/"+up.VideoID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	queued := decode[ProcessVideoResponse](t, rec)
	assert.True(t, queued.Success)
	assert.Equal(t, MsgVideoQueued, queued.Message)
	require.NotNil(t, queued.OutputPath)
	assert.Equal(t, up.OutputPath, *queued.OutputPath)

	rec = env.get(t, "/video_status/"+up.VideoID)
	status := decode[ProcessingStatus](t, rec)
	assert.Equal(t, StatusProcessing, status.Status)
	assert.Contains(t, []string{string(jobs.StateQueued), string(jobs.StateRunning)}, status.State)

	rec = env.get(t, "/process_video/"+up.VideoID)
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(codec.gate)
	waitForStatus(t, env, up.VideoID, StatusComplete)

	first := env.get(t, "/video_status/"+up.VideoID)
	require.Equal(t, http.StatusOK, first.Code)
	complete := decode[CompleteStatus](t, first)
	assert.Equal(t, up.OutputPath, complete.OutputPath)
	assert.Positive(t, complete.FileSize)
	assert.GreaterOrEqual(t, complete.TimeElapsed, 0.0)

	second := env.get(t, "/video_status/"+up.VideoID)
	assert.Equal(t, first.Body.String(), second.Body.String(), "complete status is stable")

	outputPath := filepath.Join(env.store.ResultDir(), "output_"+up.VideoID+".mp4")
	frames := codec.framesWritten(outputPath)
	require.Len(t, frames, 12)
	for _, b := range frames {
		assert.Equal(t, image.Rect(0, 0, 32, 24), b)
	}
}

func TestProcessVideo_Wait(t *testing.T) {
	env := newTestEnv(t, config.ModeVideo, readyModels(), nil)
	up := uploadVideo(t, env, "frames", nil)

	rec := env.get(t, "/process_video/"+up.VideoID+"?wait=true&conf_threshold=0.7")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ProcessVideoResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, MsgVideoProcessed, resp.Message)
	require.NotNil(t, resp.ProcessedFrames)
	assert.Equal(t, 12, *resp.ProcessedFrames)
	assert.Regexp(t, `^\d+\.\d{2}s$`, resp.ElapsedTime)

	job, err := env.jobs.Get(t.Context(), up.VideoID)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, job.ConfThreshold, 1e-6)
	assert.Equal(t, jobs.StateSucceeded, job.State)

	assert.Equal(t, http.StatusOK, env.get(t, "/"+*resp.OutputPath).Code)
}

func TestProcessVideo_FailureIsReported(t *testing.T) {
	env := newTestEnv(t, config.ModeVideo, readyModels(), nil)
	up := uploadVideo(t, env, "corrupt", nil)

	rec := env.get(t, "/process_video/"+up.VideoID+"?wait=1")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[ProcessVideoResponse](t, rec)
	assert.False(t, resp.Success)
	assert.Nil(t, resp.OutputPath)
	assert.Contains(t, resp.Error, "invalid data found")

	rec = env.get(t, "/video_status/"+up.VideoID)
	require.Equal(t, http.StatusOK, rec.Code)
	failed := decode[FailedStatus](t, rec)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Contains(t, failed.Error, errs.ErrVideoOpen.Error())
}

// outcomeLosingStore accepts every update except the one recording a job's
// final state.
type outcomeLosingStore struct {
	*jobs.MemoryStore
}

func (s outcomeLosingStore) Update(ctx context.Context, id string, fn func(*jobs.Job) error) (jobs.Job, error) {
	current, err := s.MemoryStore.Get(ctx, id)
	if err != nil {
		return jobs.Job{}, err
	}
	if err := fn(&current); err != nil {
		return jobs.Job{}, err
	}
	if current.State.Terminal() {
		return jobs.Job{}, errors.New("connection reset")
	}
	return s.MemoryStore.Update(ctx, id, fn)
}

func TestProcessVideo_WaitWithUnrecordedOutcome(t *testing.T) {
	env := newTestEnvWithStore(t, config.ModeVideo, readyModels(), nil, outcomeLosingStore{jobs.NewMemoryStore()})
	up := uploadVideo(t, env, "frames", nil)

	rec := env.get(t, "/process_video/"+up.VideoID+"?wait=true")
	assert.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())
	resp := decode[ErrorResponse](t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, MsgVideoFailed, resp.Error)
}

func TestProcessVideo_UnknownAndInvalidIDs(t *testing.T) {
	env := newTestEnv(t, config.ModeVideo, readyModels(), nil)
	id := uuid.NewString()

	rec := env.get(t, "/process_video/"+id)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, decode[ErrorResponse](t, rec).Success)

	rec = env.get(t, "/process_video/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.get(t, "/video_status/"+id)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, StatusNotFound, decode[NotFoundStatus](t, rec).Status)

	rec = env.get(t, "/video_status/not-a-uuid")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProcessVideo_UploadWithoutRecord(t *testing.T) {
	env := newTestEnv(t, config.ModeVideo, readyModels(), nil)
	id := uuid.NewString()
	require.NoError(t, os.WriteFile(filepath.Join(env.store.UploadDir(), id+".avi"), []byte("frames"), 0o644))

	rec := env.get(t, "/process_video/"+id+"?file_extension=avi&wait=true")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[ProcessVideoResponse](t, rec).Success)

	job, err := env.jobs.Get(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateSucceeded, job.State)
}

func TestProcessVideo_ModelNotReady(t *testing.T) {
	env := newTestEnv(t, config.ModeVideo, fakeModels{err: errs.ErrModelNotReady}, nil)
	up := uploadVideo(t, env, "frames", nil)

	rec := env.get(t, "/process_video/"+up.VideoID)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestVideoStatus_OutputWithoutRecord(t *testing.T) {
	env := newTestEnv(t, config.ModeVideo, readyModels(), nil)
	id := uuid.NewString()
	require.NoError(t, os.WriteFile(env.store.VideoOutputPath(id), []byte("mp4"), 0o644))

	rec := env.get(t, "/video_status/"+id)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[CompleteStatus](t, rec)
	assert.Equal(t, StatusComplete, status.Status)
	assert.Equal(t, int64(3), status.FileSize)
	assert.Equal(t, fmt.Sprintf("static/results/output_%s.mp4", id), status.OutputPath)
}

func TestVideoStatus_ExpiredOutput(t *testing.T) {
	env := newTestEnv(t, config.ModeVideo, readyModels(), nil)
	up := uploadVideo(t, env, "frames", nil)

	rec := env.get(t, "/process_video/"+up.VideoID+"?wait=true")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, os.Remove(env.store.VideoOutputPath(up.VideoID)))

	rec = env.get(t, "/video_status/"+up.VideoID)
	assert.Equal(t, StatusFailed, decode[FailedStatus](t, rec).Status)
}
