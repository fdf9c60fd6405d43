package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"uk.co.dudmesh.tgingest/internal/model"
)

const DefaultFileIDCacheDSN = "file:fileidcache.db?mode=memory&cache=shared"

// fileIDCache remembers resolved file references so that repeated page reads
// with resolveFiles do not hit the upstream again.
type fileIDCache struct {
	db *sqlx.DB
}

func NewFileIDCache(dsn string) (*fileIDCache, error) {
	if dsn == "" {
		dsn = DefaultFileIDCacheDSN
	}
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	cache := &fileIDCache{db}
	if err := cache.init(); err != nil {
		db.Close()
		return nil, err
	}
	return cache, nil
}

func (s *fileIDCache) init() error {
	_, err := s.db.Exec(`create table if not exists file_id_cache (
		channel_id text not null,
		message_id integer not null,
		file_id    text not null,
		primary key (channel_id, message_id)
	)`)
	if err != nil {
		return fmt.Errorf("creating file id cache table: %w", err)
	}
	return nil
}

func (s *fileIDCache) Close() error {
	return s.db.Close()
}

func (s *fileIDCache) Get(ctx context.Context, channelID string, messageID model.MessageID) (string, error) {
	var fileID string
	err := s.db.GetContext(ctx, &fileID, "SELECT file_id FROM file_id_cache WHERE channel_id = ? AND message_id = ?", channelID, int64(messageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", model.ErrorFileNotCached
		}
		return "", fmt.Errorf("getting file id from cache: %w", err)
	}
	return fileID, nil
}

func (s *fileIDCache) Set(ctx context.Context, channelID string, messageID model.MessageID, fileID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO file_id_cache (channel_id, message_id, file_id) VALUES (?, ?, ?)
		ON CONFLICT (channel_id, message_id) DO UPDATE SET file_id = excluded.file_id`, channelID, int64(messageID), fileID)
	if err != nil {
		return fmt.Errorf("setting file id in cache: %w", err)
	}
	return nil
}
