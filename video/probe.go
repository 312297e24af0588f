package video

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Tutortoise/object-detection-service/models"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

type probeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
		Tags         struct {
			Rotate string `json:"rotate"`
		} `json:"tags"`
		SideDataList []struct {
			SideDataType string  `json:"side_data_type"`
			Rotation     float64 `json:"rotation"`
		} `json:"side_data_list"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads the resolution, frame rate and frame count of the first video
// stream in path. The resolution is the displayed one: ffmpeg applies the
// rotation metadata when decoding, so quarter turns swap width and height.
func Probe(path string) (models.VideoInfo, error) {
	raw, err := ffmpeg.Probe(path)
	if err != nil {
		return models.VideoInfo{}, err
	}
	return parseProbe(raw)
}

func parseProbe(raw string) (models.VideoInfo, error) {
	var out probeOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return models.VideoInfo{}, fmt.Errorf("failed to parse probe output: %w", err)
	}

	for _, s := range out.Streams {
		if s.CodecType != "video" {
			continue
		}
		if s.Width <= 0 || s.Height <= 0 {
			return models.VideoInfo{}, fmt.Errorf("invalid video dimensions %dx%d", s.Width, s.Height)
		}
		info := models.VideoInfo{Width: s.Width, Height: s.Height}

		var rotation float64
		if r, err := strconv.ParseFloat(strings.TrimSpace(s.Tags.Rotate), 64); err == nil {
			rotation = r
		}
		for _, sd := range s.SideDataList {
			if sd.SideDataType == "Display Matrix" {
				rotation = sd.Rotation
			}
		}
		if quarterTurn(rotation) {
			info.Width, info.Height = info.Height, info.Width
		}

		info.FPS = parseFrameRate(s.AvgFrameRate)
		if info.FPS <= 0 {
			info.FPS = parseFrameRate(s.RFrameRate)
		}
		if info.FPS <= 0 {
			info.FPS = DefaultFPS
		}

		if n, err := strconv.Atoi(s.NbFrames); err == nil && n > 0 {
			info.TotalFrames = n
		} else {
			duration := parseFloat(s.Duration)
			if duration <= 0 {
				duration = parseFloat(out.Format.Duration)
			}
			info.TotalFrames = int(math.Round(duration * info.FPS))
		}
		return info, nil
	}
	return models.VideoInfo{}, fmt.Errorf("no video stream found")
}

// quarterTurn reports whether rotation, in degrees, is an odd multiple of 90.
func quarterTurn(rotation float64) bool {
	if math.IsNaN(rotation) || math.IsInf(rotation, 0) {
		return false
	}
	turns := int(math.Round(rotation / 90))
	return turns%2 != 0
}

// parseFrameRate accepts "30000/1001" or "25" and returns 0 when the rate
// is unknown.
func parseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return parseFloat(num)
	}
	n, d := parseFloat(num), parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
