package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pruneFunc func(before time.Time) (int64, error)

func (f pruneFunc) DeleteRunsBefore(before time.Time) (int64, error) {
	return f(before)
}

func TestPruneJournal(t *testing.T) {
	var cutoff time.Time

	err := PruneJournal(context.Background(), pruneFunc(func(before time.Time) (int64, error) {
		cutoff = before

		return 2, nil
	}), 24*time.Hour)
	require.NoError(t, err)

	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), cutoff, time.Minute)
}

func TestPruneJournal_Error(t *testing.T) {
	err := PruneJournal(context.Background(), pruneFunc(func(time.Time) (int64, error) {
		return 0, errors.New("database is locked")
	}), time.Hour)

	assert.ErrorContains(t, err, "database is locked")
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := make(chan struct{}, 10)

	done := make(chan struct{})

	go func() {
		defer close(done)
		Run(ctx, pruneFunc(func(time.Time) (int64, error) {
			calls <- struct{}{}

			return 0, nil
		}), 5*time.Millisecond, time.Hour)
	}()

	select {
	case <-calls:
	case <-time.After(5 * time.Second):
		t.Fatal("journal was never pruned")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cleanup did not stop")
	}
}
