// cmd/archive/main.go
// Copies every local scan, pending or delivered, into a central MySQL
// archive. Local records are only read. Re-runs are safe: rows are keyed on
// (installation_id, local_id) and only the delivery status is refreshed.
//
// Usage:
//
//	MYSQL_DSN="user:pass@tcp(host:3306)/timing?parseTime=true" \
//	go run ./cmd/archive --store data/scans.db
package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/GNGRRNNR/tiger-claw-timing/config"
	bundb "github.com/GNGRRNNR/tiger-claw-timing/db"
	"github.com/GNGRRNNR/tiger-claw-timing/models"
	"github.com/GNGRRNNR/tiger-claw-timing/store"
)

const batchSize = 500

const createArchive = `CREATE TABLE IF NOT EXISTS checkpoint_scans (
	installation_id CHAR(36)     NOT NULL,
	local_id        BIGINT       NOT NULL,
	bib             VARCHAR(32)  NOT NULL,
	checkpoint      VARCHAR(128) NOT NULL,
	race            VARCHAR(128) NOT NULL,
	scanned_at      VARCHAR(32)  NOT NULL,
	runner_name     VARCHAR(255) NOT NULL,
	status          VARCHAR(16)  NOT NULL,
	archived_at     TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (installation_id, local_id),
	KEY checkpoint_scans_race_cp (race, checkpoint)
)`

func main() {
	ctx := context.Background()

	cfg, err := config.LoadStore(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	// --- MySQL ---
	if cfg.MySQLDSN == "" {
		log.Fatal("MYSQL_DSN required, e.g.: user:pass@tcp(host:3306)/timing?parseTime=true")
	}
	myDB, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("open mysql: %v", err)
	}
	defer myDB.Close()
	myDB.SetMaxOpenConns(4)
	if err := myDB.PingContext(ctx); err != nil {
		log.Fatalf("ping mysql: %v", err)
	}
	log.Println("connected to MySQL")

	// --- local store ---
	bdb, err := bundb.Setup(ctx, cfg)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer bdb.Close()
	st := store.New(bdb, nil)

	installationID, err := st.InstallationID(ctx)
	if err != nil {
		log.Fatalf("installation id: %v", err)
	}
	log.Printf("archiving installation %s", installationID)

	if _, err := myDB.ExecContext(ctx, createArchive); err != nil {
		log.Fatalf("create archive table: %v", err)
	}

	total := 0
	err = st.All(ctx, batchSize, func(batch []models.Scan) error {
		if err := archiveBatch(ctx, myDB, installationID, batch); err != nil {
			return err
		}
		total += len(batch)
		log.Printf("%d scans archived", total)
		return nil
	})
	if err != nil {
		log.Fatalf("archive: %v", err)
	}
	log.Println("archive complete")
}

// archiveBatch writes one batch in a single transaction.
func archiveBatch(ctx context.Context, myDB *sql.DB, installationID string, batch []models.Scan) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := myDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query, args := insertStatement(installationID, batch)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return err
	}
	return tx.Commit()
}

// insertStatement builds a multi-row upsert for batch.
func insertStatement(installationID string, batch []models.Scan) (string, []interface{}) {
	var b strings.Builder
	b.WriteString("INSERT INTO checkpoint_scans (installation_id, local_id, bib, checkpoint, race, scanned_at, runner_name, status) VALUES ")

	args := make([]interface{}, 0, len(batch)*8)
	for i, s := range batch {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, installationID, s.ID, s.Bib, s.Checkpoint, s.Race, s.Timestamp, s.RunnerName, string(s.Status))
	}
	b.WriteString(" ON DUPLICATE KEY UPDATE status = VALUES(status)")
	return b.String(), args
}
