package repository

import (
	"context"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuajeschek/dandelion/internal/bard"
	"github.com/joshuajeschek/dandelion/internal/config"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	db, err := OpenDB(&config.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepo(db)
}

func TestRepo_DefaultsOnFirstAccess(t *testing.T) {
	repo := newTestRepo(t)

	s, err := repo.GetSettings(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, "g1", s.GuildID)
	assert.Equal(t, 1, s.SkipLimit)
	assert.Equal(t, 2, s.ShuffleLimit)
	assert.Equal(t, 1, s.StopLimit)
}

func TestRepo_SetLimit(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SetLimit(ctx, "g1", bard.ActionSkip, 3))
	require.NoError(t, repo.SetLimit(ctx, "g1", bard.ActionStop, -1))

	s, err := repo.GetSettings(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 3, s.SkipLimit)
	assert.Equal(t, 2, s.ShuffleLimit)
	assert.Equal(t, -1, s.StopLimit)

	// settings are per guild
	other, err := repo.GetSettings(ctx, "g2")
	require.NoError(t, err)
	assert.Equal(t, 1, other.SkipLimit)
}

func TestRepo_SetLimitUnknownAction(t *testing.T) {
	repo := newTestRepo(t)
	err := repo.SetLimit(context.Background(), "g1", bard.Action("rewind"), 2)
	assert.Error(t, err)
}

func TestRepo_Thresholds(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SetLimit(ctx, "g1", bard.ActionShuffle, 5))

	th, err := repo.Thresholds(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, bard.Thresholds{Skip: 1, Shuffle: 5, Stop: 1}, th)

	assert.Equal(t, 5, th.For(bard.ActionShuffle))
	assert.Equal(t, 1, th.For(bard.ActionSkip))
}
