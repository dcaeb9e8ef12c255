package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"vapidispatch/pkg/config"
	"vapidispatch/pkg/vapi"

	flag "github.com/spf13/pflag"
)

func main() {
	catalogPath := flag.String("catalog", "tools.yaml", "tool catalog file")
	baseURL := flag.String("base-url", "", "public webhook base URL (default from WEBHOOK_BASE_URL / DEV_WEBHOOK_BASE_URL / PROD_WEBHOOK_BASE_URL)")
	dryRun := flag.Bool("dry-run", false, "print what would change without calling VAPI")
	flag.Parse()

	cfg := config.Load()
	if *baseURL == "" {
		*baseURL = cfg.WebhookBaseURL()
	}
	cat, err := vapi.LoadCatalog(*catalogPath)
	if err != nil {
		log.Fatalf("load catalog: %v", err)
	}
	if cfg.VapiAPIKey == "" && !*dryRun {
		log.Fatal("VAPI_API_KEY not set in environment")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	client := vapi.NewClient(cfg.VapiBaseURL, cfg.VapiAPIKey)

	existing := map[string]string{}
	if cfg.VapiAPIKey != "" {
		tools, err := client.ListTools(ctx)
		if err != nil {
			log.Fatalf("list tools: %v", err)
		}
		for _, t := range tools {
			existing[t.Function.Name] = t.ID
		}
	}

	failed := 0
	for _, ct := range cat.Tools {
		tool := ct.Tool(*baseURL, cfg.VapiWebhookSecret)
		id, found := existing[ct.Name]
		action := "create"
		if found {
			action = "update"
		}
		if *dryRun {
			fmt.Printf("[dry-run] %s %s -> %s\n", action, ct.Name, tool.Server.URL)
			continue
		}
		if found {
			_, err = client.UpdateTool(ctx, id, tool)
		} else {
			_, err = client.CreateTool(ctx, tool)
		}
		if err != nil {
			log.Printf("%s %s: %v", action, ct.Name, err)
			failed++
			continue
		}
		fmt.Printf("%sd %s -> %s\n", action, ct.Name, tool.Server.URL)
	}
	if failed > 0 {
		os.Exit(1)
	}
}
