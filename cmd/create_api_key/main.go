package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"vapidispatch/models"
	"vapidispatch/pkg/apikey"
	"vapidispatch/pkg/config"
	"vapidispatch/pkg/store"

	flag "github.com/spf13/pflag"
)

func main() {
	ttl := flag.Duration("expires-in", 0, "key lifetime, e.g. 720h (0 = never expires)")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: go run ./cmd/create_api_key [--expires-in 720h] <tenant-id> <label>")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 2 {
		flag.Usage()
		os.Exit(2)
	}
	tenantID, label := flag.Arg(0), flag.Arg(1)

	cfg := config.Load()
	db, err := store.Open(cfg.DBDSN)
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}
	repo := store.New(db)
	ctx := context.Background()

	tenant, err := repo.Tenant(ctx, tenantID)
	if err != nil {
		log.Fatalf("tenant %s: %v", tenantID, err)
	}

	raw, prefix, hash, err := apikey.Generate()
	if err != nil {
		log.Fatalf("generate key: %v", err)
	}
	key := models.APIKey{TenantID: tenant.ID, Label: label, Prefix: prefix, SecretHash: hash}
	if *ttl > 0 {
		exp := time.Now().Add(*ttl)
		key.ExpiresAt = &exp
	}
	if err := repo.CreateAPIKey(ctx, &key); err != nil {
		log.Fatalf("failed to store key: %v", err)
	}
	fmt.Printf("created key %q for tenant %s (id=%s)\n", label, tenant.Name, key.ID)
	fmt.Println("store it now, it cannot be shown again:")
	fmt.Println(raw)
}
