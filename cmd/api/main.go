package main

import (
	"context"
	"log"

	"disputeflow/auth"
	"disputeflow/config"
	"disputeflow/contact"
	"disputeflow/db"
	"disputeflow/dispute"
	"disputeflow/fieldcrypt"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("bootstrap config: %v", err)
	}

	codec, err := fieldcrypt.New(cfg.EncryptionSecret)
	if err != nil {
		log.Fatalf("bootstrap field codec: %v", err)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	authService := auth.NewService(auth.NewRepository(pool, codec), cfg.JWTSecret)
	contactService := contact.NewService(contact.NewRepository(pool, codec))

	// The verdict generator is wired in by the serving layer; the engine is
	// fully operational for every transition that does not need one.
	engine := dispute.NewEngine(pool, dispute.NewStore(pool, codec), nil)

	log.Printf("dispute consensus engine ready: auth=%t contacts=%t engine=%t",
		authService != nil, contactService != nil, engine != nil)
}
