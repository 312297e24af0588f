package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"strings"

	"github.com/Tutortoise/object-detection-service/models"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

const (
	DefaultCodec  = "libx264"
	DefaultFourCC = "avc1"
	DefaultFPS    = 25.0
)

// FFmpeg decodes and encodes videos by piping raw RGB24 frames through
// ffmpeg subprocesses.
type FFmpeg struct {
	Codec  string
	FourCC string
}

// decodeArgs emits every decoded frame exactly once. The default constant
// frame rate sync would duplicate or drop frames of variable rate inputs.
func decodeArgs() ffmpeg.KwArgs {
	return ffmpeg.KwArgs{
		"format":   "rawvideo",
		"pix_fmt":  "rgb24",
		"fps_mode": "passthrough",
	}
}

func (f FFmpeg) Open(ctx context.Context, path string) (FrameSource, models.VideoInfo, error) {
	info, err := Probe(path)
	if err != nil {
		return nil, models.VideoInfo{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	src := &ffmpegSource{
		info:   info,
		pipe:   pr,
		frame:  make([]byte, info.Width*info.Height*3),
		cancel: cancel,
		done:   make(chan error, 1),
	}

	stream := ffmpeg.Input(path).Output("pipe:", decodeArgs())
	stream.Context = ctx
	stream = stream.WithOutput(pw).WithErrorOutput(&src.stderr)

	go func() {
		err := stream.Run()
		if err != nil {
			err = commandError("decode", err, &src.stderr)
		}
		pw.CloseWithError(err)
		src.done <- err
	}()

	return src, info, nil
}

func (f FFmpeg) Create(ctx context.Context, path string, info models.VideoInfo) (FrameSink, error) {
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("invalid output dimensions %dx%d", info.Width, info.Height)
	}
	fps := info.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}
	codec := f.Codec
	if codec == "" {
		codec = DefaultCodec
	}

	outArgs := ffmpeg.KwArgs{
		"c:v":     codec,
		"pix_fmt": "yuv420p",
	}
	if f.FourCC != "" {
		outArgs["tag:v"] = f.FourCC
	}
	if info.Width%2 != 0 || info.Height%2 != 0 {
		// yuv420p needs even dimensions
		outArgs["vf"] = "pad=ceil(iw/2)*2:ceil(ih/2)*2"
	}

	pr, pw := io.Pipe()
	sink := &ffmpegSink{
		width:  info.Width,
		height: info.Height,
		pipe:   pw,
		buf:    make([]byte, info.Width*info.Height*3),
		done:   make(chan error, 1),
	}

	stream := ffmpeg.Input("pipe:", ffmpeg.KwArgs{
		"format":  "rawvideo",
		"pix_fmt": "rgb24",
		"s":       fmt.Sprintf("%dx%d", info.Width, info.Height),
		"r":       fmt.Sprintf("%.6g", fps),
	}).Output(path, outArgs).OverWriteOutput()
	stream.Context = ctx
	stream = stream.WithInput(pr).WithErrorOutput(&sink.stderr)

	go func() {
		err := stream.Run()
		if err != nil {
			err = commandError("encode", err, &sink.stderr)
		}
		pr.CloseWithError(err)
		sink.done <- err
	}()

	return sink, nil
}

func commandError(op string, err error, stderr *bytes.Buffer) error {
	msg := strings.TrimSpace(stderr.String())
	if i := strings.LastIndex(msg, "\n"); i >= 0 {
		msg = msg[i+1:]
	}
	if msg == "" {
		return fmt.Errorf("ffmpeg %s: %w", op, err)
	}
	return fmt.Errorf("ffmpeg %s: %w: %s", op, err, msg)
}

type ffmpegSource struct {
	info   models.VideoInfo
	pipe   *io.PipeReader
	frame  []byte
	stderr bytes.Buffer
	cancel context.CancelFunc
	done   chan error
	closed bool
}

// Next returns the next frame, or io.EOF after the last one.
func (s *ffmpegSource) Next() (image.Image, error) {
	if _, err := io.ReadFull(s.pipe, s.frame); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("truncated frame: %w", err)
		}
		return nil, err
	}
	w, h := s.info.Width, s.info.Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, j := 0, 0; i < len(s.frame); i, j = i+3, j+4 {
		img.Pix[j] = s.frame[i]
		img.Pix[j+1] = s.frame[i+1]
		img.Pix[j+2] = s.frame[i+2]
		img.Pix[j+3] = 255
	}
	return img, nil
}

func (s *ffmpegSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.pipe.Close()
	s.cancel()
	<-s.done
	return nil
}

type ffmpegSink struct {
	width, height int
	pipe          *io.PipeWriter
	buf           []byte
	stderr        bytes.Buffer
	done          chan error
	closed        bool
	err           error
}

func (s *ffmpegSink) Write(img image.Image) error {
	b := img.Bounds()
	if b.Dx() != s.width || b.Dy() != s.height {
		return fmt.Errorf("frame size %dx%d does not match output %dx%d", b.Dx(), b.Dy(), s.width, s.height)
	}
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, s.width, s.height))
		draw.Draw(rgba, rgba.Rect, img, b.Min, draw.Src)
	}
	for y := 0; y < s.height; y++ {
		row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+s.width*4]
		out := s.buf[y*s.width*3:]
		for x := 0; x < s.width; x++ {
			out[x*3] = row[x*4]
			out[x*3+1] = row[x*4+1]
			out[x*3+2] = row[x*4+2]
		}
	}
	_, err := s.pipe.Write(s.buf)
	return err
}

// Close flushes the encoder and waits for ffmpeg to finish the file.
func (s *ffmpegSink) Close() error {
	if s.closed {
		return s.err
	}
	s.closed = true
	s.pipe.Close()
	s.err = <-s.done
	return s.err
}
