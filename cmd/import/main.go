/*
main.go - Command-line spreadsheet import

PURPOSE:
  Runs the reconciliation pipeline on one workbook from a terminal, the
  way the treasurer does it from the web UI: preview first, then publish
  with -confirm.

COMMAND-LINE FLAGS:
  -config       YAML config file (optional)
  -file         Workbook to import (.xlsx, .xls or .csv) [required]
  -rule         value_present | year_gated (overrides the profile)
  -cutoff-year  Cutoff for year_gated (alone, it selects year_gated)
  -store        sqlite | postgres | memory (overrides config)
  -db           SQLite path or PostgreSQL DSN (overrides config)
  -confirm      Replace the snapshot; without it only a preview is run
  -rows         Number of sample records to print (default 3)

EXIT STATUS:
  0 on success, 1 on a failed or partial publish, 2 on usage errors.

EXAMPLES:
  ./import -file=rekap-2026.xlsx -rule=year_gated -cutoff-year=2026
  ./import -file=rekap-2026.xlsx -rule=year_gated -cutoff-year=2026 -confirm
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/koperasi/loan-ledger/config"
	"github.com/koperasi/loan-ledger/generic"
	"github.com/koperasi/loan-ledger/loan"
	"github.com/koperasi/loan-ledger/logger"
	"github.com/koperasi/loan-ledger/sheet"
	"github.com/koperasi/loan-ledger/store"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	file := flag.String("file", "", "Workbook to import")
	ruleName := flag.String("rule", "", "Opening balance rule: value_present or year_gated")
	cutoffYear := flag.Int("cutoff-year", 0, "Cutoff year for year_gated")
	driver := flag.String("store", "", "Store driver: sqlite, postgres or memory")
	dsn := flag.String("db", "", "SQLite path or PostgreSQL DSN")
	confirm := flag.Bool("confirm", false, "Replace the snapshot with the reconciled rows")
	rows := flag.Int("rows", 3, "Sample records to print")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "-file is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *driver != "" {
		cfg.Store.Driver = *driver
	}
	if *dsn != "" {
		cfg.Store.DSN = *dsn
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	profile, err := cfg.Profile()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	loanCfg := profile.Loan
	rule, err := loan.OverrideRule(loanCfg.Rule, *ruleName, *cutoffYear)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	loanCfg.Rule = rule

	log := logger.New(logger.Options{Level: cfg.Log.Level, Format: logger.FormatConsole})
	ctx := context.Background()

	s, err := sheet.LoadFile(*file)
	if err != nil {
		log.Fatal().Err(err).Str("file", *file).Msg("failed to read workbook")
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	im := loan.NewImporter(st, loanCfg, log)
	fileName := filepath.Base(*file)

	var res *loan.ImportResult
	if *confirm {
		res, err = im.Import(ctx, s, fileName, true)
	} else {
		res, err = im.Preview(ctx, s, fileName)
	}
	if res != nil {
		printReport(os.Stdout, res, loanCfg.Aliases.Fields(), *rows)
	}
	if err != nil {
		if generic.IsPartial(err) {
			log.Error().Err(err).Msg("snapshot partially replaced, re-run the import")
		} else {
			log.Error().Err(err).Msg("import failed")
		}
		st.Close()
		os.Exit(1)
	}
	if !*confirm {
		fmt.Println("\nPreview only. Re-run with -confirm to replace the snapshot.")
	}
}

func printReport(w io.Writer, res *loan.ImportResult, fields []sheet.Field, rows int) {
	run, report := res.Run, res.Report

	fmt.Fprintf(w, "Run         %s (%s)\n", run.ID, run.Status)
	fmt.Fprintf(w, "Rule        %s\n", run.Rule)
	fmt.Fprintf(w, "Rows        %d read, %d reconciled, %d skipped\n", run.TotalRows, run.Reconciled, run.Skipped)
	fmt.Fprintf(w, "Members     %d\n", run.Members)

	fmt.Fprintln(w, "\nColumns")
	for _, f := range fields {
		header, ok := report.Columns[f]
		if !ok {
			header = "-"
		}
		fmt.Fprintf(w, "  %-18s %s\n", f, header)
	}
	for _, u := range report.Unresolved {
		if u.Suggestion != "" {
			fmt.Fprintf(w, "  %s not found, did you mean %q?\n", u.Field, u.Suggestion)
		}
	}

	if len(report.Skips) > 0 {
		fmt.Fprintln(w, "\nSkipped rows")
		for _, sk := range report.Skips {
			fmt.Fprintf(w, "  row %-5d %-24s %s\n", sk.Row, sk.Name, sk.Reason)
		}
	}

	if n := min(rows, len(report.Records)); n > 0 {
		fmt.Fprintln(w, "\nSample")
		for _, r := range report.Records[:n] {
			fmt.Fprintf(w, "  %-10s %-24s %14s %14s %s\n",
				r.MemberID, r.MemberName, loan.FormatRupiah(r.Principal), loan.FormatRupiah(r.Outstanding), r.Status)
		}
	}

	if p := res.Publish; p != nil {
		fmt.Fprintf(w, "\nPublished   %d members, %d loans (replaced %d members, %d loans)\n",
			p.MembersWritten, p.LoansWritten, p.MembersDeleted, p.LoansDeleted)
	}
}
