package main

import (
	"context"
	"fmt"
	"log"

	"github.com/david/bid-intel/internal/config"
	"github.com/david/bid-intel/internal/db"
	"github.com/david/bid-intel/internal/logger"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool, logger.New("warn", "console")); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	st, err := db.NewStore(pool).Stats(ctx)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	fmt.Printf("Notices: %d\n", st.Notices)
	fmt.Printf("With Description: %d\n", st.WithDescription)
	fmt.Printf("With Embedding: %d\n", st.WithEmbedding)
	fmt.Printf("Decisions: %d\n", st.Decisions)
	for rec, n := range st.ByRecommendation {
		fmt.Printf("  %s: %d\n", rec, n)
	}
}
