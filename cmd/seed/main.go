// seed prepares a fresh database for local development: it ensures the
// default namespace exists, registers two sample keyword namespaces, and
// activates the built-in scoring config as version 1. Idempotent: skips
// anything already present.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"outreach-sync-engine/internal/config"
	"outreach-sync-engine/internal/db"
	"outreach-sync-engine/internal/namespace"
	nsrepo "outreach-sync-engine/internal/namespace/repository"
	"outreach-sync-engine/internal/scoring"
	scoringrepo "outreach-sync-engine/internal/scoring/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()

	// NewRegistry creates the default namespace if it is missing.
	registry, err := namespace.NewRegistry(ctx, nsrepo.NewPostgresRepository(conn))
	if err != nil {
		log.Fatalf("namespace registry: %v", err)
	}

	samples := []struct {
		name     string
		keywords []string
	}{
		{"enterprise", []string{"enterprise", "ent-"}},
		{"smb", []string{"smb", "startup"}},
	}
	for _, s := range samples {
		if registry.GetByName(s.name) != nil {
			log.Printf("seed: namespace %s already exists, skipping", s.name)
			continue
		}
		if _, err := registry.Register(ctx, s.name, s.keywords, nil); err != nil {
			if errors.Is(err, namespace.ErrAlreadyExists) {
				continue
			}
			log.Fatalf("seed: register namespace %s: %v", s.name, err)
		}
		log.Printf("seed: registered namespace %s", s.name)
	}

	scoringRepo := scoringrepo.NewPostgresRepository(conn)
	active, err := scoringRepo.GetActive(ctx)
	if err != nil {
		log.Fatalf("seed: scoring config check: %v", err)
	}
	if active != nil {
		log.Println("seed: active scoring config already stored, skipping")
		return
	}
	doc, err := json.Marshal(scoring.DefaultRawConfig())
	if err != nil {
		log.Fatalf("seed: marshal scoring config: %v", err)
	}
	if err := scoringRepo.Insert(ctx, 1, doc, true); err != nil {
		log.Fatalf("seed: insert scoring config: %v", err)
	}
	log.Println("seed: activated scoring config version 1")
}
