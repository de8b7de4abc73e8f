// Command preview-statement shows what the ingestion pipeline would read from
// a local statement without writing anything.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/dvloznov/bizledger/internal/config"
	"github.com/dvloznov/bizledger/internal/extract"
	"github.com/dvloznov/bizledger/internal/intake"
	"github.com/dvloznov/bizledger/internal/logger"
	"github.com/dvloznov/bizledger/internal/pipeline"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("error: %v", err)
	}
}

func run() error {
	_ = godotenv.Load()

	file := flag.String("file", "", "Path to a local CSV, XLSX, XLS or PDF statement")
	parse := flag.Bool("parse", false, "Also send the text to the extraction model and print the records")
	flag.Parse()

	if *file == "" {
		return fmt.Errorf("-file is required")
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("failed to read %q: %w", *file, err)
	}

	// Intake needs a business; the preview never stores anything.
	kind, err := intake.Validate(intake.Upload{
		Filename:   filepath.Base(*file),
		BusinessID: "preview",
		Data:       data,
	})
	if err != nil {
		return err
	}

	lg := logger.New()
	text, err := extract.New(lg).Extract(kind, data)
	if err != nil {
		return err
	}

	if !*parse {
		fmt.Println(text)
		return nil
	}

	cfg, err := config.LoadWithoutDatabase()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, lg)

	completer, err := pipeline.NewGeminiCompleter(ctx, cfg.LLM.APIKey, cfg.LLM.Model)
	if err != nil {
		return err
	}

	res, err := pipeline.NewModelParser(completer, cfg.LLM.RetryPolicy()).
		WithAttemptTimeout(cfg.LLM.Timeout).
		ParseRecords(ctx, text)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "%d records, %d dropped, model %s\n", len(res.Records), res.Dropped, res.Model)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res.Records)
}
