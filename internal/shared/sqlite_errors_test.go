package shared

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIsSQLiteConflictError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"busy", errors.New("sqlite: step: SQLITE_BUSY"), true},
		{"locked", errors.New("database is locked (5)"), true},
		{"other", errors.New("no such table"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsSQLiteConflictError(tt.err); got != tt.want {
				t.Fatalf("IsSQLiteConflictError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryOnSQLiteConflict(t *testing.T) {
	t.Parallel()

	calls := 0
	err := RetryOnSQLiteConflict(context.Background(), "test", 3, time.Millisecond, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryOnSQLiteConflictStopsOnOtherErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("constraint failed")
	calls := 0
	err := RetryOnSQLiteConflict(context.Background(), "test", 5, time.Millisecond, func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestRetryOnSQLiteConflictGivesUp(t *testing.T) {
	t.Parallel()

	calls := 0
	err := RetryOnSQLiteConflict(context.Background(), "test", 2, time.Millisecond, func(context.Context) error {
		calls++
		return errors.New("SQLITE_BUSY")
	})
	if !IsSQLiteConflictError(err) {
		t.Fatalf("expected last conflict error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}
