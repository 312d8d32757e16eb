// apply-migration executes one SQL migration file against the
// configured database, statement by statement.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"

	_ "github.com/lib/pq"

	"agromind-sense/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatalf("Usage: %s <migration_file.sql>", os.Args[0])
	}

	sqlContent, err := os.ReadFile(os.Args[1])
	if err != nil {
		log.Fatalf("Failed to read migration file: %v", err)
	}

	cfg := config.Load()
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("Cannot connect to database: %v", err)
	}

	applied := 0
	for _, stmt := range sqlStatements(string(sqlContent)) {
		if _, err := db.Exec(stmt); err != nil {
			log.Fatalf("Statement %d failed: %v\n%s", applied+1, err, stmt)
		}
		applied++
	}
	fmt.Printf("Applied %d statements from %s\n", applied, os.Args[1])
}

// sqlStatements splits a migration file into executable statements.
// Comment lines are stripped before splitting on semicolons, so a
// statement that follows a comment is kept whole and a semicolon
// inside a comment cannot cut a statement in half.
func sqlStatements(content string) []string {
	var sb strings.Builder
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}

	var stmts []string
	for _, chunk := range strings.Split(sb.String(), ";") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		stmts = append(stmts, chunk)
	}
	return stmts
}
