package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"cloud.google.com/go/storage"
	"github.com/dvloznov/bizledger/internal/app"
	"github.com/dvloznov/bizledger/internal/config"
	"github.com/dvloznov/bizledger/internal/domain"
	"github.com/dvloznov/bizledger/internal/gcsuploader"
	"github.com/dvloznov/bizledger/internal/intake"
	"github.com/dvloznov/bizledger/internal/logger"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type command struct {
	name      string
	help      string
	ingestion bool
	run       func(ctx context.Context, a *app.App, args []string) error
}

var commands = []command{
	{"ingest", "Import a bank statement from a local file or gs:// URI", true, runIngest},
	{"link", "Record a payment from a bank record against a transaction", false, runLink},
	{"update-payment", "Change the amount of a payment", false, runUpdatePayment},
	{"unlink", "Remove a payment and free its bank record", false, runUnlink},
	{"recompute", "Rebuild a transaction's payment state from its payments", false, runRecompute},
	{"auto-reconcile", "Link bank records that match exactly one open transaction", false, runAutoReconcile},
	{"add-business", "Create a business", false, runAddBusiness},
	{"add-transaction", "Create a sale or expense", false, runAddTransaction},
	{"runs", "List recent ingestion runs of a business", false, runRuns},
}

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	name := os.Args[1]
	if name == "help" || name == "-h" || name == "--help" {
		printUsage()
		return
	}

	cmd, ok := findCommand(name)
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", name)
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		boot := logger.New()
		boot.Fatal().Err(err).Msg("Invalid configuration")
	}
	log := logger.NewFromConfig(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	if err := run(ctx, cmd, cfg, log, os.Args[2:]); err != nil {
		if de, ok := domain.AsError(err); ok {
			fmt.Fprintln(os.Stderr, "Error:", de.UserMessage())
		}
		log.Error().Err(err).Str("command", cmd.name).Msg("Command failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd command, cfg *config.Config, log zerolog.Logger, args []string) error {
	a, err := app.New(ctx, cfg, log, app.Options{Ingestion: cmd.ingestion})
	if err != nil {
		return err
	}
	defer a.Close()
	return cmd.run(ctx, a, args)
}

func findCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func printUsage() {
	fmt.Println("bizledger CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	for _, c := range commands {
		fmt.Printf("  %-16s %s\n", c.name, c.help)
	}
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func runIngest(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	businessID := fs.String("business", "", "Business ID")
	file := fs.String("file", "", "Path to a local statement, or a gs:// URI")
	contentType := fs.String("content-type", "", "MIME type (detected from the extension when empty)")
	fs.Parse(args)

	if *businessID == "" || *file == "" {
		return fmt.Errorf("usage: cli ingest -business ID -file PATH|gs://bucket/object")
	}

	upload := intake.Upload{BusinessID: *businessID, ContentType: *contentType}
	if strings.HasPrefix(*file, "gs://") {
		data, err := fetchGCS(ctx, a, *file)
		if err != nil {
			return err
		}
		upload.Data = data
		upload.Filename = gcsuploader.ExtractFilenameFromGCSURI(*file)
	} else {
		data, err := os.ReadFile(*file)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", *file, err)
		}
		upload.Data = data
		upload.Filename = filepath.Base(*file)
	}

	res, err := a.Ingestor().Ingest(ctx, upload)
	if err != nil {
		return err
	}

	fmt.Printf("Successfully imported %d bank records", res.Inserted)
	if res.Dropped > 0 {
		fmt.Printf(" (%d dropped)", res.Dropped)
	}
	fmt.Println()
	return nil
}

// fetchGCS reads a gs:// object through the archive client, or a short-lived
// client when archiving is not configured.
func fetchGCS(ctx context.Context, a *app.App, uri string) ([]byte, error) {
	if store := a.StatementStore(); store != nil {
		return store.Fetch(ctx, uri)
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	defer client.Close()
	return gcsuploader.FetchFromGCS(ctx, client, uri)
}

func runLink(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("link", flag.ExitOnError)
	businessID := fs.String("business", "", "Business ID")
	txnID := fs.String("transaction", "", "Transaction ID")
	recordID := fs.String("bank-record", "", "Bank record ID")
	amount := fs.String("amount", "", "Payment amount (defaults to the bank record amount)")
	date := fs.String("date", "", "Payment date YYYY-MM-DD (defaults to the bank record date)")
	notes := fs.String("notes", "", "Free-form notes")
	fs.Parse(args)

	req := domain.LinkRequest{
		BusinessID:    *businessID,
		TransactionID: *txnID,
		BankRecordID:  *recordID,
		Notes:         *notes,
	}
	if *amount != "" {
		d, err := decimal.NewFromString(*amount)
		if err != nil {
			return fmt.Errorf("invalid -amount %q: %w", *amount, err)
		}
		req.Amount = &d
	}
	if *date != "" {
		d, err := civil.ParseDate(*date)
		if err != nil {
			return fmt.Errorf("invalid -date %q: %w", *date, err)
		}
		req.PaymentDate = &d
	}

	res, err := a.Reconcile.Link(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runUpdatePayment(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("update-payment", flag.ExitOnError)
	paymentID := fs.String("payment", "", "Payment ID")
	amount := fs.String("amount", "", "New amount")
	fs.Parse(args)

	d, err := decimal.NewFromString(*amount)
	if err != nil {
		return fmt.Errorf("invalid -amount %q: %w", *amount, err)
	}
	res, err := a.Reconcile.UpdateAmount(ctx, *paymentID, d)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runUnlink(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("unlink", flag.ExitOnError)
	paymentID := fs.String("payment", "", "Payment ID")
	fs.Parse(args)

	txn, err := a.Reconcile.Unlink(ctx, *paymentID)
	if err != nil {
		return err
	}
	return printJSON(txn)
}

func runRecompute(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("recompute", flag.ExitOnError)
	txnID := fs.String("transaction", "", "Transaction ID")
	fs.Parse(args)

	txn, err := a.Reconcile.Recompute(ctx, *txnID)
	if err != nil {
		return err
	}
	return printJSON(txn)
}

func runAutoReconcile(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("auto-reconcile", flag.ExitOnError)
	businessID := fs.String("business", "", "Business ID (all businesses with unprocessed records when empty)")
	fs.Parse(args)

	if *businessID != "" {
		report, err := a.Auto.Run(ctx, *businessID)
		if err != nil {
			return err
		}
		return printJSON(report)
	}
	reports, err := a.Auto.RunAll(ctx)
	if err != nil {
		return err
	}
	return printJSON(reports)
}

func runAddBusiness(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("add-business", flag.ExitOnError)
	name := fs.String("name", "", "Business name")
	fs.Parse(args)

	id, err := a.Payments.CreateBusiness(ctx, *name)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func runAddTransaction(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("add-transaction", flag.ExitOnError)
	businessID := fs.String("business", "", "Business ID")
	kind := fs.String("kind", "", "sale or expense")
	total := fs.String("total", "", "Total amount")
	description := fs.String("description", "", "Description")
	fs.Parse(args)

	k, err := domain.ParseTransactionKind(*kind)
	if err != nil {
		return err
	}
	t, err := decimal.NewFromString(*total)
	if err != nil {
		return fmt.Errorf("invalid -total %q: %w", *total, err)
	}

	txn, err := a.Payments.CreateTransaction(ctx, domain.NewTransaction{
		BusinessID:  *businessID,
		Kind:        k,
		Description: *description,
		Total:       t,
	})
	if err != nil {
		return err
	}
	return printJSON(txn)
}

func runRuns(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	businessID := fs.String("business", "", "Business ID")
	limit := fs.Int("limit", 20, "Number of runs")
	fs.Parse(args)

	if a.Recorder == nil {
		return fmt.Errorf("ingestion auditing is not enabled; set BIGQUERY_PROJECT")
	}
	runs, err := a.Recorder.ListRuns(ctx, *businessID, *limit)
	if err != nil {
		return err
	}

	fmt.Printf("\n=== Ingestion runs (%d) ===\n", len(runs))
	for i, r := range runs {
		fmt.Printf("\n%d. %s (%s)\n", i+1, r.Filename, r.Status)
		fmt.Printf("   Run ID:   %s\n", r.RunID)
		fmt.Printf("   Started:  %s\n", r.StartedAt.Format(time.RFC3339))
		fmt.Printf("   Records:  %d inserted, %d dropped\n", r.RecordsInserted, r.RecordsDropped)
		if r.ArchiveURI != "" {
			fmt.Printf("   Archive:  %s\n", r.ArchiveURI)
		}
		if r.ErrorMessage != "" {
			fmt.Printf("   Error:    %s\n", r.ErrorMessage)
		}
	}
	fmt.Println()
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
