package detections

const (
	DefaultInputSize     = 640
	DefaultConfThreshold = 0.25
	DefaultIoUThreshold  = 0.45
	LetterboxFill        = 114
	RetryAttempts        = 3
	RetryDelayMs         = 100
)
