package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"uk.co.dudmesh.tgingest/internal/model"
)

const defaultArchiveLimit = 50

// Store keeps per-channel checkpoints and an archive of every message the
// fetcher has delivered. It runs on sqlite3 or pgx.
type Store struct {
	db *sqlx.DB
}

type archivedMessage struct {
	ChannelID string         `db:"channel_id"`
	ID        int64          `db:"id"`
	Text      sql.NullString `db:"text"`
	FileID    sql.NullString `db:"file_id"`
	Date      time.Time      `db:"date"`
	FetchedAt time.Time      `db:"fetched_at"`
}

func Open(driver, dsn string) (*Store, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}

	s := &Store{db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	_, err := s.db.Exec(`create table if not exists checkpoints(
		channel_id      text not null primary key,
		last_message_id bigint not null,
		total_archived  bigint not null default 0,
		updated_at      timestamp not null
	)`)
	if err != nil {
		return fmt.Errorf("creating checkpoints table: %w", err)
	}

	_, err = s.db.Exec(`create table if not exists messages(
		channel_id text not null,
		id         bigint not null,
		text       text null,
		file_id    text null,
		date       timestamp not null,
		fetched_at timestamp not null,
		primary key (channel_id, id)
	)`)
	if err != nil {
		return fmt.Errorf("creating messages table: %w", err)
	}

	return nil
}

// RecordBatch archives a delivered batch and advances the channel checkpoint
// in a single transaction. Messages already archived are left untouched.
func (s *Store) RecordBatch(ctx context.Context, channelID string, messages []model.FetchedMessage, lastMessageID model.MessageID) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var inserted int64
	insert := tx.Rebind(`insert into messages (channel_id, id, text, file_id, date, fetched_at)
		values (?, ?, ?, ?, ?, ?)
		on conflict (channel_id, id) do nothing`)
	for _, m := range messages {
		res, err := tx.ExecContext(ctx, insert, channelID, int64(m.ID), nullString(m.Text), nullString(m.FileID), m.Date.UTC(), now)
		if err != nil {
			return fmt.Errorf("inserting message %d: %w", m.ID, err)
		}
		if rows, err := res.RowsAffected(); err == nil {
			inserted += rows
		}
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`insert into checkpoints (channel_id, last_message_id, total_archived, updated_at)
		values (?, ?, ?, ?)
		on conflict (channel_id) do update set
			last_message_id = case when excluded.last_message_id > checkpoints.last_message_id
				then excluded.last_message_id else checkpoints.last_message_id end,
			total_archived = checkpoints.total_archived + excluded.total_archived,
			updated_at = excluded.updated_at`),
		channelID, int64(lastMessageID), inserted, now)
	if err != nil {
		return fmt.Errorf("upserting checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

func (s *Store) Checkpoint(ctx context.Context, channelID string) (*model.Checkpoint, error) {
	checkpoint := &model.Checkpoint{}
	err := s.db.GetContext(ctx, checkpoint, s.db.Rebind(`select channel_id, last_message_id, total_archived, updated_at
		from checkpoints where channel_id = ?`), channelID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrorCheckpointNotFound
		}
		return nil, fmt.Errorf("fetching checkpoint: %w", err)
	}
	return checkpoint, nil
}

// Messages returns archived messages older than beforeID (or the newest when
// beforeID is zero), newest first.
func (s *Store) Messages(ctx context.Context, channelID string, beforeID model.MessageID, limit int) ([]model.FetchedMessage, error) {
	if limit <= 0 {
		limit = defaultArchiveLimit
	}

	query := `select channel_id, id, text, file_id, date, fetched_at from messages where channel_id = ?`
	args := []interface{}{channelID}
	if beforeID > 0 {
		query += ` and id < ?`
		args = append(args, int64(beforeID))
	}
	query += ` order by id desc limit ?`
	args = append(args, limit)

	var rows []archivedMessage
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("selecting archived messages: %w", err)
	}

	messages := make([]model.FetchedMessage, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, model.FetchedMessage{
			ID:     model.MessageID(row.ID),
			Text:   stringPtr(row.Text),
			FileID: stringPtr(row.FileID),
			Date:   row.Date.UTC(),
		})
	}
	return messages, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return model.StringPtr(s.String)
}
