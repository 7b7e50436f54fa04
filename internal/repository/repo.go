package repository

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"

	"github.com/joshuajeschek/dandelion/internal/bard"
)

type Repo struct {
	db *sql.DB
}

func NewRepo(db *sql.DB) *Repo { return &Repo{db: db} }

// Settings is one guild's persisted configuration.
type Settings struct {
	GuildID      string
	SkipLimit    int
	ShuffleLimit int
	StopLimit    int
}

// GetSettings returns the guild's settings, inserting the defaults when
// none exist yet.
func (r *Repo) GetSettings(ctx context.Context, guildID string) (*Settings, error) {
	_, _ = r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO guild_settings(guild_id) VALUES (?)`, guildID,
	)

	row := r.db.QueryRowContext(ctx, `
	SELECT guild_id, skip_limit, shuffle_limit, stop_limit
	FROM guild_settings WHERE guild_id = ?`, guildID)

	var s Settings
	if err := row.Scan(&s.GuildID, &s.SkipLimit, &s.ShuffleLimit, &s.StopLimit); err != nil {
		return nil, err
	}
	return &s, nil
}

// SetLimit updates a single action's vote threshold. Negative restricts
// the action to admins, 0 or 1 lets any single voter execute.
func (r *Repo) SetLimit(ctx context.Context, guildID string, action bard.Action, limit int) error {
	var column string
	switch action {
	case bard.ActionSkip:
		column = "skip_limit"
	case bard.ActionShuffle:
		column = "shuffle_limit"
	case bard.ActionStop:
		column = "stop_limit"
	default:
		return errors.Newf("unknown action: %s", action)
	}

	if _, err := r.GetSettings(ctx, guildID); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE guild_settings SET `+column+` = ? WHERE guild_id = ?`, limit, guildID,
	)
	return err
}

// Thresholds implements bard.ThresholdSource.
func (r *Repo) Thresholds(ctx context.Context, guildID string) (bard.Thresholds, error) {
	s, err := r.GetSettings(ctx, guildID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return bard.DefaultThresholds(), nil
		}
		return bard.DefaultThresholds(), err
	}
	return bard.Thresholds{Skip: s.SkipLimit, Shuffle: s.ShuffleLimit, Stop: s.StopLimit}, nil
}
