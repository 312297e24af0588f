package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Tutortoise/object-detection-service/config"
	"github.com/Tutortoise/object-detection-service/logger"
	"github.com/Tutortoise/object-detection-service/metric"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Version is the application version.
const Version = "0.1.0"

var (
	v   = config.New()
	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:           "object-detection-service",
	Short:         "YOLO object detection for images and videos",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := bindFlags(v, cmd.Flags()); err != nil {
			return err
		}
		var err error
		if cfg, err = config.Load(v); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if err := logger.Init(cfg.AppName, cfg.AppLogLevel); err != nil {
			return err
		}
		return metric.Init(cfg.MetricsEnabled, cfg.StatsdAddress, cfg.AppName)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		metric.Close()
	},
}

// Execute runs the root command until it finishes or the process receives
// SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// bindFlags exposes every flag to viper under its environment variable
// name, so "--conf-threshold" overrides CONF_THRESHOLD.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		key := strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		err = v.BindPFlag(key, f)
	})
	return err
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("app-log-level", "INFO", "log level: DEBUG, INFO, WARN or ERROR")
	flags.String("model-path", "models/garbage.onnx", "path to the ONNX model")
	flags.String("model-labels-path", "", "file with one class name per line")
	flags.String("onnx-library-path", "", "path to the onnxruntime shared library")
	flags.Int("model-pool-size", 4, "number of inference sessions")
	flags.Float64("conf-threshold", 0.25, "default confidence threshold")
	flags.Float64("iou-threshold", 0.45, "IoU threshold for non-maximum suppression")
	flags.String("static-dir", "static", "directory holding uploads and results")
	flags.String("job-store", config.JobStoreMemory, "job store: memory or postgres")
	flags.String("database-url", "", "PostgreSQL connection string for the postgres job store")
}
