package metric

import (
	"strconv"
	"sync"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/rs/zerolog/log"
)

const (
	APIRequestCount   = "api_request_count"
	APIRequestLatency = "api_request_latency"
	InferenceLatency  = "inference_latency"
	InferenceCount    = "inference_count"
	FramesProcessed   = "video_frames_processed"
	JobCount          = "video_job_count"
	JobLatency        = "video_job_latency"
	SweptFiles        = "retention_swept_files"

	TagPath       = "path"
	TagMethod     = "method"
	TagStatusCode = "status_code"
	TagSource     = "source"
	TagOutcome    = "outcome"
)

var (
	// one client is safe to share between goroutines
	client      statsd.ClientInterface = &statsd.NoOpClient{}
	mu          sync.RWMutex
	initialized bool
)

// Init points the package at a statsd agent. When disabled every call is a
// no-op.
func Init(enabled bool, address, appName string) error {
	mu.Lock()
	defer mu.Unlock()
	if initialized {
		log.Debug().Msg("Metrics already initialized!")
		return nil
	}
	if !enabled {
		initialized = true
		return nil
	}
	c, err := statsd.New(address, statsd.WithTags([]string{"service:" + appName}))
	if err != nil {
		return err
	}
	client = c
	initialized = true
	log.Info().Msgf("Metrics client initialized with statsd address - %s", address)
	return nil
}

// Close flushes and releases the statsd client.
func Close() {
	mu.RLock()
	defer mu.RUnlock()
	if err := client.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close metrics client")
	}
}

func Incr(name string, tags []string) {
	mu.RLock()
	defer mu.RUnlock()
	if err := client.Incr(name, tags, 1); err != nil {
		log.Debug().Err(err).Str("metric", name).Msg("metric incr failed")
	}
}

func Count(name string, value int64, tags []string) {
	mu.RLock()
	defer mu.RUnlock()
	if err := client.Count(name, value, tags, 1); err != nil {
		log.Debug().Err(err).Str("metric", name).Msg("metric count failed")
	}
}

func Timing(name string, value time.Duration, tags []string) {
	mu.RLock()
	defer mu.RUnlock()
	if err := client.Timing(name, value, tags, 1); err != nil {
		log.Debug().Err(err).Str("metric", name).Msg("metric timing failed")
	}
}

// Tag renders a statsd "key:value" tag.
func Tag(key, value string) string {
	return key + ":" + value
}

// ObserveAPIRequest records one served HTTP request.
func ObserveAPIRequest(path, method string, statusCode int, latency time.Duration) {
	tags := []string{
		Tag(TagPath, path),
		Tag(TagMethod, method),
		Tag(TagStatusCode, strconv.Itoa(statusCode)),
	}
	Incr(APIRequestCount, tags)
	Timing(APIRequestLatency, latency, tags)
}
