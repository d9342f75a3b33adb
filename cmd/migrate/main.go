// Command migrate applies the schema and, given -import, loads a legacy
// JSON export (collection name -> documents) into the store.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/parking-reservation/internal/config"
	"github.com/iliyamo/parking-reservation/internal/database"
	"github.com/iliyamo/parking-reservation/internal/legacy"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

func main() {
	importPath := flag.String("import", "", "legacy export to import (JSON)")
	schemaOnly := flag.Bool("schema-only", false, "apply the schema and exit")
	flag.Parse()

	_ = godotenv.Load()
	dbc := config.LoadDB()
	db, err := database.Open(dbc.User, dbc.Pass, dbc.Host, dbc.Port, dbc.Name)
	if err != nil {
		log.Fatalf("migrate: db open: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Printf("migrate: schema applied")
	if *schemaOnly || *importPath == "" {
		return
	}

	f, err := os.Open(*importPath)
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}
	defer f.Close()
	export, err := legacy.ReadExport(f)
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}

	rep, err := legacy.Import(ctx, repository.NewMySQLStore(db), export)
	printReport(rep)
	if err != nil {
		log.Fatalf("migrate: import aborted: %v", err)
	}
}

func printReport(rep legacy.Report) {
	colls := make([]string, 0, len(rep.Imported))
	seen := map[string]bool{}
	for _, m := range []map[string]int{rep.Imported, rep.Skipped, rep.Failed} {
		for c := range m {
			if !seen[c] {
				seen[c] = true
				colls = append(colls, c)
			}
		}
	}
	sort.Strings(colls)
	for _, c := range colls {
		log.Printf("migrate: %-16s imported=%d skipped=%d failed=%d", c, rep.Imported[c], rep.Skipped[c], rep.Failed[c])
	}
}
