// Command folio binds every image directly inside a folder into one PDF.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dunamismax/folio/internal/domain"
	"github.com/dunamismax/folio/internal/logging"
	"github.com/dunamismax/folio/internal/pipeline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "folio INPUT_DIR OUTPUT_PDF",
		Short: "Bind a folder of images into a single PDF",
		Long: `folio reads the png, jpg, jpeg, bmp, tiff and webp files directly inside
INPUT_DIR, orders them by file name and writes them as the pages of one PDF
at 300 DPI. An existing OUTPUT_PDF is overwritten.`,
		Version:      version,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, args[0], args[1], quiet)
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not show a progress bar")
	return cmd
}

func runConvert(cmd *cobra.Command, inputDir, outputPath string, quiet bool) error {
	logger := logging.New(logging.Config{
		Level:   envOr("FOLIO_LOG_LEVEL", "warn"),
		Format:  envOr("FOLIO_LOG_FORMAT", "console"),
		Service: "folio",
		Output:  cmd.ErrOrStderr(),
	})

	if err := pipeline.Startup(); err != nil {
		return fmt.Errorf("start image runtime: %w", err)
	}
	defer pipeline.Shutdown()

	processor, err := pipeline.NewLocalProcessor()
	if err != nil {
		return err
	}
	var progress *pageProgress
	if !quiet {
		progress = newPageProgress(cmd.ErrOrStderr())
		processor = processor.WithObserver(progress)
	}

	result, err := processor.Process(context.Background(), pipeline.Request{
		SourceType: domain.SourceTypeLocalDir,
		InputPath:  inputDir,
		OutputPath: outputPath,
	})
	if err != nil {
		if progress != nil {
			progress.Abort()
		}
		logger.Debug().Err(err).Str("input_dir", inputDir).Msg("conversion failed")
		return err
	}

	if progress != nil {
		progress.Finish()
	}
	logger.Info().
		Int("pages", len(result.Pages)).
		Int("output_bytes", result.OutputBytes).
		Msg("document written")
	color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✅ PDF created: %s\n", result.Location)
	return nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
