package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Tutortoise/object-detection-service/detections"
	"github.com/Tutortoise/object-detection-service/models"
	"github.com/Tutortoise/object-detection-service/service"
	"github.com/spf13/cobra"
)

var detectOpts struct {
	output     string
	confidence float64
	timeout    time.Duration
}

type detectOutput struct {
	Result     string             `json:"result_path"`
	Detections []models.Detection `json:"detections"`
}

var detectCmd = &cobra.Command{
	Use:   "detect <image>",
	Short: "Detect objects in one image and write the annotated result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		img, err := service.OpenImage(args[0])
		if err != nil {
			return err
		}

		loader := newLoader(cfg)
		loader.Start(ctx)
		defer loader.Close()
		if _, err := waitForModel(ctx, loader, detectOpts.timeout); err != nil {
			return err
		}

		params := defaultParams(cfg)
		if cmd.Flags().Changed("confidence") {
			params.ConfThreshold = float32(detectOpts.confidence)
		}
		res, err := service.NewInferencer(loader, defaultParams(cfg), "cli").Infer(ctx, img, params)
		if err != nil {
			return err
		}
		if err := service.SaveImage(detectOpts.output, res.Rendered); err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(detectOutput{Result: detectOpts.output, Detections: res.Detections}); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "%d detections in %s, written to %s\n", len(res.Detections), res.InferenceTime.Round(time.Millisecond), detectOpts.output)
		return nil
	},
}

func init() {
	detectCmd.Flags().StringVarP(&detectOpts.output, "output", "o", "result.jpg", "annotated image path")
	detectCmd.Flags().Float64VarP(&detectOpts.confidence, "confidence", "c", float64(detections.DefaultParams().ConfThreshold), "confidence threshold")
	detectCmd.Flags().DurationVar(&detectOpts.timeout, "model-timeout", time.Minute, "how long to wait for the model")
	rootCmd.AddCommand(detectCmd)
}
