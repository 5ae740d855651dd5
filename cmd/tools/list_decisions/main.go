package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/david/bid-intel/internal/config"
	"github.com/david/bid-intel/internal/db"
	"github.com/jedib0t/go-pretty/v6/table"
)

func main() {
	rec := flag.String("recommendation", "", "BID, WATCH or NO_BID")
	minScore := flag.Float64("min-score", 0, "minimum overall score")
	sortBy := flag.String("sort", "score", "score, newest or deadline")
	limit := flag.Int("limit", 20, "rows to show")
	flag.Parse()

	cfg, err := config.Load("")
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	list, err := db.NewStore(pool).ListDecisions(ctx, db.DecisionFilter{
		Recommendation: *rec,
		MinScore:       *minScore,
		SortBy:         *sortBy,
		Limit:          *limit,
	})
	if err != nil {
		log.Fatal(err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Notice", "Title", "Agency", "Rec", "Score", "Win %", "Bid Cost", "Deadline"})
	for _, d := range list.Decisions {
		win, cost, deadline := "-", "-", "-"
		if d.WinProbability != nil {
			win = fmt.Sprintf("%.0f", *d.WinProbability*100)
		}
		if d.EstimatedBidCost != nil {
			cost = fmt.Sprintf("$%.0f", *d.EstimatedBidCost)
		}
		if d.ResponseDeadline != nil {
			deadline = d.ResponseDeadline.Format("2006-01-02")
		}
		t.AppendRow(table.Row{d.NoticeID, truncate(d.Title, 48), truncate(d.Agency, 32), d.Recommendation,
			fmt.Sprintf("%.1f", d.OverallScore), win, cost, deadline})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "Total", list.Total})
	t.Render()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
