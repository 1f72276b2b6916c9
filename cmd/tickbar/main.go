package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/rxtech-lab/tickbar/internal/ingest"
	"github.com/rxtech-lab/tickbar/internal/logger"
	"github.com/rxtech-lab/tickbar/internal/version"
)

// pipelineStages is the number of top-level stages the progress bar tracks.
const pipelineStages = 5

// runAction loads the config, executes the full ingest pipeline, and prints
// the produced artifact paths.
func runAction(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	config, err := ingest.LoadConfig(configPath)
	if err != nil {
		return err
	}

	zapLogger, err := logger.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer zapLogger.Sync()

	options := []ingest.Option{}

	if !cmd.Bool("quiet") {
		bar := progressbar.NewOptions(pipelineStages,
			progressbar.OptionSetDescription("ingest"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)

		options = append(options, ingest.WithProgressSink(func(event ingest.ProgressEvent) {
			switch event.Event {
			case ingest.EventStart:
				bar.Describe(event.Stage)
			case ingest.EventComplete:
				_ = bar.Add(1)
			case ingest.EventFailed:
				bar.Describe(fmt.Sprintf("%s failed (%s)", event.Stage, event.ErrorCode))
			}
		}))
	}

	result, err := ingest.NewPipeline(config, zapLogger, options...).Run(ctx)
	if err != nil {
		return err
	}

	zapLogger.Info("artifacts written",
		zap.String("run_dir", result.RunDir),
		zap.String("manifest", result.ManifestPath),
	)

	fmt.Printf("run %s complete\n", result.RunID)
	fmt.Printf("  manifest:       %s\n", result.ManifestPath)
	fmt.Printf("  quality report: %s\n", result.QualityReportPath)
	fmt.Printf("  progress log:   %s\n", result.ProgressLogPath)

	for frame, path := range result.FramePaths {
		fmt.Printf("  bars %-6s %s\n", frame+":", path)
	}

	return nil
}

// schemaAction prints the JSON schema of the config file format.
func schemaAction(ctx context.Context, cmd *cli.Command) error {
	config := ingest.Config{}

	schema, err := config.GenerateSchemaJSON()
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	fmt.Println(schema)

	return nil
}

// verifyAction re-checks a finished run's manifest the way a downstream
// consumer must before trusting its artifacts.
func verifyAction(ctx context.Context, cmd *cli.Command) error {
	manifestPath := cmd.String("manifest")

	names, err := ingest.VerifyRun(manifestPath)
	if err != nil {
		return err
	}

	fmt.Printf("verified %d artifacts (schema %s)\n", len(names), version.SchemaVersion)

	for _, name := range names {
		fmt.Printf("  %s\n", name)
	}

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:    "tickbar",
		Usage:   "Batch tick-to-bar aggregation and data-quality engine",
		Version: version.GetModuleVersion(),
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Execute one ingest run from a YAML config",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "config",
						Aliases:  []string{"c"},
						Usage:    "Path to the YAML run configuration",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "quiet",
						Usage: "Disable the interactive progress bar",
					},
				},
				Action: runAction,
			},
			{
				Name:   "schema",
				Usage:  "Print the JSON schema of the run configuration",
				Action: schemaAction,
			},
			{
				Name:  "verify",
				Usage: "Verify a finished run's manifest hashes and bar schema",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "manifest",
						Aliases:  []string{"m"},
						Usage:    "Path to the run's manifest.json",
						Required: true,
					},
				},
				Action: verifyAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
