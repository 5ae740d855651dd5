package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/david/bid-intel/internal/ai"
	"github.com/david/bid-intel/internal/config"
	"github.com/david/bid-intel/internal/db"
	"github.com/david/bid-intel/internal/logger"
	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"
)

const maxInput = 2000

func main() {
	batchSize := flag.Int("batch-size", 100, "notices per batch")
	maxItems := flag.Int("max-items", 1000, "stop after this many notices")
	dryRun := flag.Bool("dry-run", false, "list what would be embedded")
	flag.Parse()

	if *batchSize <= 0 || *maxItems <= 0 {
		exitErr(errors.New("batch-size and max-items must be > 0"))
	}

	cfg, err := config.Load("")
	if err != nil {
		exitErr(err)
	}
	zl := logger.New(cfg.Log.Level, cfg.Log.Format)
	defer func() { _ = zl.Sync() }()

	providers := ai.NewFromConfig(cfg.AI, nil, zl)
	if providers.Embedder == nil {
		exitErr(errors.New("embedding needs ai.ollama.enabled"))
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		exitErr(err)
	}
	defer pool.Close()
	store := db.NewStore(pool)

	start := time.Now()
	var scanned, embedded, failed int
	for scanned < *maxItems {
		notices, err := store.NoticesMissingEmbedding(ctx, min(*batchSize, *maxItems-scanned))
		if err != nil {
			exitErr(err)
		}
		if len(notices) == 0 {
			break
		}
		for _, n := range notices {
			scanned++
			if *dryRun {
				fmt.Printf("[DRY-RUN] %s %s\n", n.NoticeID, n.Title)
				continue
			}
			text := strings.TrimSpace(n.Title + "\n" + n.Description)
			if r := []rune(text); len(r) > maxInput {
				text = string(r[:maxInput])
			}
			vec, err := providers.Embedder.GenerateEmbedding(ctx, text)
			if err == nil {
				err = store.SetNoticeEmbedding(ctx, n.NoticeID, vec)
			}
			if err != nil {
				failed++
				zl.Warn("embedding failed", zap.String("notice_id", n.NoticeID), zap.Error(err))
				continue
			}
			embedded++
		}
		// A dry run never clears the backlog, so one batch is enough.
		if *dryRun || embedded == 0 {
			break
		}
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Scanned", "Embedded", "Failed", "Duration"})
	t.AppendRow(table.Row{scanned, embedded, failed, time.Since(start).Round(time.Millisecond)})
	t.Render()
}

func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
