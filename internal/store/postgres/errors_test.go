package postgres

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kozaktomas/facematch/internal/store"
)

func TestMapErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", pgx.ErrNoRows, store.ErrNotFound},
		{"unique violation", &pgconn.PgError{Code: uniqueViolation}, store.ErrConflict},
		{"connect failure", &pgconn.ConnectError{}, store.ErrUnavailable},
		{"refused connection", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, store.ErrUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := mapErr(fmt.Errorf("query: %w", tc.err), "loading observation")
			if !errors.Is(got, tc.want) {
				t.Errorf("mapErr = %v, want %v", got, tc.want)
			}
		})
	}

	if mapErr(nil, "loading observation") != nil {
		t.Error("nil must map to nil")
	}
	plain := mapErr(errors.New("syntax error"), "query")
	if errors.Is(plain, store.ErrUnavailable) || errors.Is(plain, store.ErrNotFound) {
		t.Errorf("plain error over-mapped: %v", plain)
	}
}
