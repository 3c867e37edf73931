// Command schematool prints the expected database schema and, given a
// DSN, validates a live database and prints the corrective SQL for any
// mismatch.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"daytrade-core/internal/logging"
	"daytrade-core/internal/storage"
	pgstore "daytrade-core/internal/storage/postgres"
)

func main() {
	dsn := flag.String("dsn", "", "PostgreSQL connection string (empty: print expected schema and exit)")
	timeout := flag.Duration("timeout", 10*time.Second, "Validation timeout")
	flag.Parse()

	_ = godotenv.Load()
	if *dsn == "" {
		*dsn = os.Getenv("CORE_DATABASE_URL")
	}

	if *dsn == "" {
		fmt.Println(storage.SchemaSQL())
		return
	}

	logger, err := logging.New(logging.Config{Level: "warn", Format: "console"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cfg := pgstore.Config{DSN: *dsn, ConnectAttempts: 1, OpTimeout: *timeout}
	rec, err := pgstore.NewRecorder(ctx, cfg, logger)
	var mismatch *storage.SchemaMismatchError
	switch {
	case err == nil:
		defer rec.Close()
		fmt.Println("schema OK")
	case errors.As(err, &mismatch):
		defer rec.Close()
		fmt.Fprintf(os.Stderr, "schema mismatch: %v\n\n", mismatch)
		fmt.Println("-- run the following to fix:")
		fmt.Println(mismatch.FixSQL())
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "validate: %v\n", err)
		os.Exit(2)
	}
}
