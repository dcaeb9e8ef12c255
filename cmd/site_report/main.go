package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"vapidispatch/models"
	"vapidispatch/pkg/config"
	"vapidispatch/pkg/store"

	flag "github.com/spf13/pflag"
)

func main() {
	tenantID := flag.String("tenant", "", "tenant id to report for (required)")
	month := flag.String("month", time.Now().UTC().Format("2006-01"), "month to report (YYYY-MM)")
	list := flag.Bool("list", false, "list the month's urgent and safety updates")
	flag.Parse()
	if *tenantID == "" {
		log.Fatal("--tenant is required")
	}

	cfg := config.Load()
	db, err := store.Open(cfg.DBDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	repo := store.New(db)
	ctx := context.Background()

	tenant, err := repo.Tenant(ctx, *tenantID)
	if err != nil {
		log.Fatalf("tenant not found: %v", err)
	}
	from, to, err := store.MonthRange(*month)
	if err != nil {
		log.Fatalf("invalid month format, expected YYYY-MM: %v", err)
	}
	rows, err := repo.SiteSummaries(ctx, tenant.ID, from, to)
	if err != nil {
		log.Fatalf("query failed: %v", err)
	}

	fmt.Printf("Site report for %s month=%s (UTC):\n", tenant.Name, *month)
	for _, r := range rows {
		fmt.Printf("  %-32s updates=%d urgent=%d safety=%d delays=%d wet_days=%d failed=%d\n",
			r.SiteName, r.Updates, r.Urgent, r.Safety, r.Delays, r.WetDays, r.Failed)
	}

	if *list {
		seen := map[string]bool{}
		for _, f := range []store.UpdateFilter{{UrgentOnly: true, Limit: 100}, {SafetyOnly: true, Limit: 100}} {
			updates, err := repo.ListProgressUpdates(ctx, tenant.ID, f)
			if err != nil {
				log.Fatalf("fetch rows failed: %v", err)
			}
			for _, u := range updates {
				d := time.Time(u.UpdateDate)
				if seen[u.ID] || d.Before(from) || !d.Before(to) {
					continue
				}
				seen[u.ID] = true
				fmt.Printf("%s|%s|%s|urgent=%t|safety=%t|%s\n", u.ID, u.SiteID, d.Format("2006-01-02"),
					u.HasUrgentIssues, u.HasSafetyConcerns, summary(u))
			}
		}
	}
}

func summary(u models.SiteProgressUpdate) string {
	if u.SummaryBrief != nil {
		return *u.SummaryBrief
	}
	return string(u.ProcessingStatus)
}
