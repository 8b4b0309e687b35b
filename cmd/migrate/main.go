package main

import (
	"context"
	"log"
	"os"

	"repliscope/adapters/postgres"
	"repliscope/adapters/tabular"
	"repliscope/internal/migration"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: migrate <database_url> [table-file]")
	}

	databaseURL := os.Args[1]

	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()

	migrator := migration.NewRunner()
	log.Printf("Running schema migrations (version %s)", migrator.Version())
	if err := migrator.Run(ctx, db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Printf("Schema migration complete")

	// Optionally import a p-value table into the observations table.
	if len(os.Args) > 2 {
		tableFile := os.Args[2]
		log.Printf("Importing observations from %s", tableFile)

		table, err := tabular.NewLoader(tableFile).LoadTable(ctx)
		if err != nil {
			log.Fatalf("Failed to load table: %v", err)
		}

		source := postgres.NewObservationSource(db)
		if err := source.InsertTable(ctx, table); err != nil {
			log.Fatalf("Failed to import observations: %v", err)
		}
		log.Printf("Imported %d observations across %d studies", table.Len(), table.StudyCount())
	}

	log.Printf("Migration complete")
}
