package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/david/bid-intel/internal/app"
	"github.com/david/bid-intel/internal/config"
	"github.com/david/bid-intel/internal/ingest"
	"github.com/david/bid-intel/internal/logger"
	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"
)

func main() {
	noticeID := flag.String("notice", "", "evaluate a single notice by id")
	naics := flag.String("naics", "", "comma-separated NAICS codes for a batch run")
	days := flag.Int("days", 7, "batch run: notices posted in the last N days")
	limit := flag.Int("limit", 25, "batch run: notices to fetch")
	flag.Parse()

	if *noticeID == "" && *naics == "" {
		log.Fatal("Please provide -notice or -naics")
	}

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	zl := logger.New(cfg.Log.Level, cfg.Log.Format)
	defer func() { _ = zl.Sync() }()

	ctx := context.Background()
	a, err := app.Build(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	if *noticeID != "" {
		d, err := a.Pipeline.ProcessNotice(ctx, *noticeID)
		if err != nil {
			zl.Fatal("evaluation failed", zap.String("notice_id", *noticeID), zap.Error(err))
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Factor", "Value"})
		for _, f := range d.Factors.Named() {
			t.AppendRow(table.Row{f.Name, fmt.Sprintf("%.2f", f.Value)})
		}
		t.AppendFooter(table.Row{d.Recommendation, fmt.Sprintf("%.1f", d.OverallScore)})
		t.Render()
		fmt.Printf("\n%s\n", d.Rationale)
		return
	}

	to := time.Now()
	from := to.AddDate(0, 0, -*days)
	summary, err := a.Pipeline.Run(ctx, ingest.SearchFilters{
		PostedFrom: &from,
		PostedTo:   &to,
		NAICSCodes: strings.Split(*naics, ","),
	}, ingest.Pagination{Limit: *limit})
	if err != nil {
		zl.Fatal("run failed", zap.Error(err))
	}

	log.Printf("Run finished in %s: found=%d processed=%d failed=%d",
		summary.Duration.Round(time.Second), summary.Found, summary.Processed, summary.Failed)
	for rec, n := range summary.ByRecommendation {
		log.Printf("  %s: %d", rec, n)
	}
}
