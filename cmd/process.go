package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Tutortoise/object-detection-service/models"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var processOpts struct {
	output     string
	confidence float64
	timeout    time.Duration
}

var processCmd = &cobra.Command{
	Use:   "process <video>",
	Short: "Annotate every frame of a video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		loader := newLoader(cfg)
		loader.Start(ctx)
		defer loader.Close()
		if _, err := waitForModel(ctx, loader, processOpts.timeout); err != nil {
			return err
		}

		params := defaultParams(cfg)
		if cmd.Flags().Changed("confidence") {
			params.ConfThreshold = float32(processOpts.confidence)
		}

		bar := progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("Detecting"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)
		report := func(p models.Progress) {
			if p.TotalFrames > 0 {
				bar.ChangeMax(p.TotalFrames)
			}
			_ = bar.Set(p.ProcessedFrames)
		}

		res, err := newPipeline(cfg, loader).Process(ctx, args[0], processOpts.output, params, report)
		_ = bar.Finish()
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "\n%d frames in %s, written to %s\n", res.ProcessedFrames, res.Elapsed.Round(time.Millisecond), processOpts.output)
		return nil
	},
}

func init() {
	processCmd.Flags().StringVarP(&processOpts.output, "output", "o", "output.mp4", "annotated video path")
	processCmd.Flags().Float64VarP(&processOpts.confidence, "confidence", "c", 0.25, "confidence threshold")
	processCmd.Flags().DurationVar(&processOpts.timeout, "model-timeout", time.Minute, "how long to wait for the model")
	processCmd.Flags().String("video-codec", "libx264", "ffmpeg encoder for the output")
	rootCmd.AddCommand(processCmd)
}
