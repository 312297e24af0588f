package server

const (
	MsgNoImage         = "No image provided"
	MsgNoImageSelected = "No image selected"
	MsgNoVideo         = "No video provided"
	MsgNoVideoSelected = "No video selected"

	MsgModelNotReady = "The detection model is still loading. Please try again in a moment."

	MsgVideoQueued     = "Video queued for processing"
	MsgVideoProcessed  = "Video processed successfully"
	MsgVideoFailed     = "Video processing failed"
	MsgVideoNotFound   = "Video not found"
	MsgVideoBusy       = "Video is already being processed"
	MsgQueueFull       = "Too many videos are waiting to be processed. Please try again later."
	MsgOutputExpired   = "The processed video is no longer available"
	MsgInvalidUpload   = "Could not read the uploaded file"
	MsgInvalidVideoID  = "Invalid video id"
	MsgUploadTooLarge  = "The uploaded file is too large"
	MsgInternalFailure = "Internal server error"
)
