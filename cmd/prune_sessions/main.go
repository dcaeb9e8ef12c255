package main

import (
	"context"
	"log"
	"time"

	"vapidispatch/pkg/config"
	"vapidispatch/pkg/session"
	"vapidispatch/pkg/store"

	flag "github.com/spf13/pflag"
)

func main() {
	backend := flag.String("backend", "", "postgres or sqlite (default SESSION_BACKEND)")
	flag.Parse()

	cfg := config.Load()
	if *backend == "" {
		*backend = cfg.SessionBackend
	}

	var pruner session.Pruner
	switch *backend {
	case "sqlite":
		s, err := session.OpenSQLite(cfg.SessionSQLitePath, cfg.SessionTTL)
		if err != nil {
			log.Fatalf("open sqlite sessions: %v", err)
		}
		defer s.Close()
		pruner = s
	default:
		db, err := store.Open(cfg.DBDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		pruner = session.NewGormStore(db, cfg.SessionTTL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := pruner.Prune(ctx)
	if err != nil {
		log.Fatalf("prune: %v", err)
	}
	log.Printf("pruned %d expired session contexts", n)
}
