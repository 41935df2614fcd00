package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"mattone/internal/models"
)

const channelColumns = `id, user_id, tvg_name, tvg_logo, group_title, stream_url, source_url, created_at, updated_at`

func scanChannel(scanner rowScanner) (models.Channel, error) {
	var c models.Channel
	err := scanner.Scan(&c.ID, &c.UserID, &c.TvgName, &c.TvgLogo, &c.GroupTitle,
		&c.StreamURL, &c.SourceURL, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// GetChannelForUser returns models.ErrNotFound both for unknown ids and for
// channels owned by another user.
func (s *Store) GetChannelForUser(channelID, userID string) (*models.Channel, error) {
	c, err := scanChannel(s.db.QueryRow(
		`SELECT `+channelColumns+` FROM channels WHERE id = ? AND user_id = ?`, channelID, userID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("channel %s: %w", channelID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting channel: %w", err)
	}
	return &c, nil
}

func channelWhere(userID string, f models.ChannelFilter) (string, []any) {
	clauses := []string{"user_id = ?"}
	args := []any{userID}
	if f.Group != "" {
		clauses = append(clauses, "group_title = ?")
		args = append(args, f.Group)
	}
	if f.Search != "" {
		clauses = append(clauses, `tvg_name LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLikePattern(f.Search)+"%")
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListChannels returns one page of the user's channels matching f.
// f must already be normalized.
func (s *Store) ListChannels(ctx context.Context, userID string, f models.ChannelFilter) ([]models.Channel, error) {
	where, args := channelWhere(userID, f)
	args = append(args, f.Limit, f.Offset())
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+channelColumns+` FROM channels`+where+
			` ORDER BY tvg_name COLLATE NOCASE, id LIMIT ? OFFSET ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}
	defer rows.Close()

	channels := []models.Channel{}
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}

func (s *Store) CountChannels(ctx context.Context, userID string, f models.ChannelFilter) (int, error) {
	where, args := channelWhere(userID, f)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM channels`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting channels: %w", err)
	}
	return n, nil
}

// ListGroups returns the user's distinct non-empty group titles, sorted.
func (s *Store) ListGroups(userID string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT group_title FROM channels
		 WHERE user_id = ? AND group_title != ''
		 ORDER BY group_title COLLATE NOCASE`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}
	defer rows.Close()

	groups := []string{}
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// ReplaceChannels swaps the user's whole channel list for channels in a single
// transaction. Other users' channels are untouched. Devices pointing at a
// removed channel have their active channel cleared by the foreign key.
func (s *Store) ReplaceChannels(ctx context.Context, userID string, channels []models.Channel) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning import: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM channels WHERE user_id = ?`, userID); err != nil {
		return 0, fmt.Errorf("clearing channels: %w", err)
	}

	now := time.Now().UTC()
	for start := 0; start < len(channels); start += s.importBatch {
		end := min(start+s.importBatch, len(channels))
		if err := insertChannelBatch(ctx, tx, userID, channels[start:end], now); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing import: %w", err)
	}
	return len(channels), nil
}

func insertChannelBatch(ctx context.Context, tx *sql.Tx, userID string, batch []models.Channel, now time.Time) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO channels (id, user_id, tvg_name, tvg_logo, group_title, stream_url, source_url, created_at, updated_at) VALUES `)
	args := make([]any, 0, len(batch)*9)
	for i, c := range batch {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, newID(), userID, c.TvgName, c.TvgLogo, c.GroupTitle,
			c.StreamURL, c.SourceURL, now, now)
	}
	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("inserting channels: %w", err)
	}
	return nil
}
