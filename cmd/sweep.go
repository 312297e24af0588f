package cmd

import (
	"fmt"
	"time"

	"github.com/Tutortoise/object-detection-service/storage"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete uploads, results and job records past the retention age once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if cfg.RetentionMaxAge <= 0 {
			return fmt.Errorf("retention is disabled: set RETENTION_MAX_AGE")
		}
		store, err := storage.New(cfg.UploadDir, cfg.ResultDir)
		if err != nil {
			return err
		}
		jobStore, err := newJobStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer jobStore.Close()

		res, err := storage.NewSweeper(store, jobStore, cfg.RetentionMaxAge, 0).Sweep(ctx, time.Now())
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d files (%d bytes), pruned %d jobs\n", res.FilesRemoved, res.BytesFreed, res.JobsPruned)
		return err
	},
}

func init() {
	sweepCmd.Flags().String("retention-max-age", "24h", "age after which files and finished jobs are deleted")
	rootCmd.AddCommand(sweepCmd)
}
