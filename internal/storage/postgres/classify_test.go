package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"daytrade-core/internal/storage"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want storage.ErrorKind
	}{
		{"nil", nil, ""},
		{"undefined column", &pgconn.PgError{Code: "42703"}, storage.KindSchemaMismatch},
		{"undefined table", &pgconn.PgError{Code: "42P01"}, storage.KindSchemaMismatch},
		{"not null violation", &pgconn.PgError{Code: "23502"}, storage.KindDataValidation},
		{"check violation", &pgconn.PgError{Code: "23514"}, storage.KindDataValidation},
		{"unique violation", &pgconn.PgError{Code: "23505"}, storage.KindDataValidation},
		{"connection failure", &pgconn.PgError{Code: "08006"}, storage.KindConnectivity},
		{"connection does not exist", &pgconn.PgError{Code: "08003"}, storage.KindConnectivity},
		{"other pg error", &pgconn.PgError{Code: "53300"}, storage.KindUnknown},
		{"not connected sentinel", storage.ErrNotConnected, storage.KindConnectivity},
		{"deadline exceeded", context.DeadlineExceeded, storage.KindConnectivity},
		{"wrapped deadline", fmt.Errorf("record signal: %w", context.DeadlineExceeded), storage.KindConnectivity},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("refused")}, storage.KindConnectivity},
		{"plain error", errors.New("boom"), storage.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestUndefinedColumn(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{
		Code:    "42703",
		Message: `column "order_id" of relation "positions" does not exist`,
	})

	col, table, ok := undefinedColumn(err)
	if !ok {
		t.Fatal("undefined column not recognized")
	}
	if col != "order_id" || table != "positions" {
		t.Errorf("parsed %q.%q, want positions.order_id", table, col)
	}
}

func TestUndefinedColumnRejectsOtherErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"wrong code", &pgconn.PgError{Code: "23502", Message: `column "x" of relation "y" does not exist`}},
		{"unparseable message", &pgconn.PgError{Code: "42703", Message: "syntax error"}},
		{"not a pg error", errors.New("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, ok := undefinedColumn(tt.err); ok {
				t.Errorf("undefinedColumn(%v) matched unexpectedly", tt.err)
			}
		})
	}
}
