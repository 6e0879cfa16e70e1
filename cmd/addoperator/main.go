// cmd/addoperator/main.go
// Creates or updates a console operator in the local store.
//
// Usage:
//
//	go run ./cmd/addoperator --username marshal --pin 4821
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/GNGRRNNR/tiger-claw-timing/config"
	bundb "github.com/GNGRRNNR/tiger-claw-timing/db"
	"github.com/GNGRRNNR/tiger-claw-timing/handlers"
	"github.com/GNGRRNNR/tiger-claw-timing/models"
	"github.com/GNGRRNNR/tiger-claw-timing/store"
)

func main() {
	cfg, err := config.LoadStore(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
	if cfg.OperatorUsername == "" || cfg.OperatorPin == "" {
		log.Fatal("both --username and --pin are required")
	}

	hash, err := handlers.HashPin(cfg.OperatorUsername, cfg.OperatorPin)
	if err != nil {
		log.Fatal("bcrypt:", err)
	}

	ctx := context.Background()
	db, err := bundb.Setup(ctx, cfg)
	if err != nil {
		log.Fatal("open store:", err)
	}
	defer db.Close()

	op := &models.Operator{
		Username: cfg.OperatorUsername,
		Pin:      hash,
	}
	if err := store.New(db, nil).SaveOperator(ctx, op); err != nil {
		log.Fatal("save operator:", err)
	}

	fmt.Printf("operator %q saved\n", cfg.OperatorUsername)
}
