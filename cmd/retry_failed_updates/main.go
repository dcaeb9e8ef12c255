package main

import (
	"context"
	"log"
	"time"

	"vapidispatch/models"
	"vapidispatch/pkg/config"
	"vapidispatch/pkg/extract"
	"vapidispatch/pkg/session"
	"vapidispatch/pkg/skills"
	"vapidispatch/pkg/store"

	flag "github.com/spf13/pflag"
)

func main() {
	tenantFlag := flag.String("tenant", "", "only retry this tenant id (default: all active tenants)")
	limit := flag.Int("limit", 50, "max failed updates per tenant")
	timeout := flag.Duration("timeout", 60*time.Second, "per-update timeout")
	stale := flag.Duration("stale", 0, "also resubmit pending/processing updates not written for this long (0 disables)")
	flag.Parse()

	cfg := config.Load()
	db, err := store.Open(cfg.DBDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	repo := store.New(db)
	if cfg.OpenAIAPIKey == "" {
		log.Fatal("OPENAI_API_KEY not set")
	}
	prompt := extract.NewPrompt()
	if cfg.ExtractPromptPath != "" {
		if err := prompt.LoadFile(cfg.ExtractPromptPath); err != nil {
			log.Printf("prompt override not loaded: %v", err)
		}
	}
	updates := skills.NewSiteUpdates(skills.Deps{
		Directory: repo,
		Notes:     repo,
		Updates:   repo,
		Sessions:  session.NewGormStore(db, cfg.SessionTTL),
		Extractor: extract.NewClient(extract.Config{BaseURL: cfg.OpenAIBaseURL, APIKey: cfg.OpenAIAPIKey, Model: cfg.OpenAIModel}, prompt),
	})

	ctx := context.Background()
	var tenantIDs []string
	if *tenantFlag != "" {
		tenantIDs = []string{*tenantFlag}
	} else {
		tenants, err := repo.Tenants(ctx)
		if err != nil {
			log.Fatalf("list tenants: %v", err)
		}
		for _, t := range tenants {
			tenantIDs = append(tenantIDs, t.ID)
		}
	}

	var ok, failed int
	retry := func(tenantID, id string, run func(context.Context) error) {
		uctx, cancel := context.WithTimeout(ctx, *timeout)
		err := run(uctx)
		cancel()
		if err != nil {
			log.Printf("tenant %s update %s: still failing: %v", tenantID, id, err)
			failed++
			return
		}
		log.Printf("tenant %s update %s: completed", tenantID, id)
		ok++
	}
	for _, tenantID := range tenantIDs {
		rows, err := repo.ListProgressUpdates(ctx, tenantID, store.UpdateFilter{Status: models.StatusFailed, Limit: *limit})
		if err != nil {
			log.Printf("tenant %s: list failed updates: %v", tenantID, err)
			continue
		}
		for _, u := range rows {
			retry(tenantID, u.ID, func(c context.Context) error {
				_, err := updates.Reprocess(c, tenantID, u.ID)
				return err
			})
		}
		if *stale <= 0 {
			continue
		}
		for _, status := range []models.ProcessingStatus{models.StatusPending, models.StatusProcessing} {
			rows, err := repo.ListProgressUpdates(ctx, tenantID, store.UpdateFilter{
				Status: status, UpdatedBefore: time.Now().Add(-*stale), Limit: *limit,
			})
			if err != nil {
				log.Printf("tenant %s: list %s updates: %v", tenantID, status, err)
				continue
			}
			for _, u := range rows {
				retry(tenantID, u.ID, func(c context.Context) error {
					_, err := updates.ReprocessStale(c, tenantID, u.ID, *stale)
					return err
				})
			}
		}
	}
	log.Printf("done: %d completed, %d still failed", ok, failed)
}
