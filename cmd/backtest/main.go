package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/opentradelab/turtle-backtest/internal/backtest"
	"github.com/opentradelab/turtle-backtest/internal/candles"
	"github.com/opentradelab/turtle-backtest/internal/logger"
	"github.com/opentradelab/turtle-backtest/internal/store"
	"github.com/opentradelab/turtle-backtest/internal/types"
)

// runAction loads the run configuration and candle database, executes the
// backtest and persists the outcome.
func runAction(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	candlesPath := cmd.String("candles")
	resultsPath := cmd.String("results")
	outputPath := cmd.String("output")
	importPath := cmd.String("import")

	appLog, err := logger.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer appLog.Sync()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	config, err := backtest.ParseConfig(data)
	if err != nil {
		return err
	}

	source, err := candles.NewDuckDBSource(candlesPath, appLog)
	if err != nil {
		return err
	}
	defer source.Close()

	if importPath != "" {
		if err := source.ImportFile(importPath); err != nil {
			return err
		}

		appLog.Info("Imported candles", zap.String("path", importPath))
	}

	engine := backtest.NewEngine(config, source, appLog)

	pair := types.NewPair(config.Currency, config.Asset)

	total, err := source.Count(pair, config.From, config.To, config.IntervalHours)
	if err != nil {
		return err
	}

	bar := progressbar.Default(int64(total))
	engine.SetProgressCallback(func(current, _ int) {
		_ = bar.Set(current)
	})

	result, orders, err := engine.Run()
	if err != nil {
		return err
	}

	_ = bar.Finish()

	if resultsPath != "" {
		resultStore, err := store.NewDuckDBStore(resultsPath, appLog)
		if err != nil {
			return err
		}
		defer resultStore.Close()

		if err := resultStore.SaveResult(result, orders); err != nil {
			return err
		}
	}

	if outputPath != "" {
		if err := types.WriteBacktestResult(outputPath, result); err != nil {
			return err
		}
	}

	fmt.Printf("groups: %d (won %d, lost %d)  profit: %.2f %s (%.2f%%)  buy and hold: %.2f%%\n",
		result.Summary.TotalGroups, result.Summary.WinningGroups, result.Summary.LosingGroups,
		result.Summary.Profit, config.Currency, result.Summary.ProfitPct, result.Summary.BuyAndHoldPct)

	return nil
}

// schemaAction prints the JSON schema of the run configuration.
func schemaAction(ctx context.Context, cmd *cli.Command) error {
	config := backtest.Config{}

	schema, err := config.GenerateSchemaJSON()
	if err != nil {
		return err
	}

	fmt.Println(schema)

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "backtest",
		Usage: "Replay a historical price series through the turtle strategy",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run a backtest from a YAML configuration",
				Action: runAction,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "config",
						Aliases:  []string{"c"},
						Usage:    "Path to the run configuration YAML",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "candles",
						Usage:    "Path to the DuckDB candle database",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "import",
						Usage: "CSV or Parquet candle file to import before the run",
					},
					&cli.StringFlag{
						Name:  "results",
						Usage: "Path to the DuckDB results database; skipped when empty",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Path for a YAML summary of the run; skipped when empty",
					},
				},
			},
			{
				Name:   "schema",
				Usage:  "Print the JSON schema for the run configuration",
				Action: schemaAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
