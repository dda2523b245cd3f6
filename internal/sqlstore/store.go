// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package sqlstore implements store.Backend on PostgreSQL through gorm.
//
// All collections share one table keyed by (collection, id). The revision
// column carries the optimistic check: updates and deletes are issued with
// "WHERE revision = expected" and a statement that touches no row is a
// conflict, or a miss when the row is gone.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/specialistvlad/relvalgo/internal/ctxlog"
	"github.com/specialistvlad/relvalgo/internal/store"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// pgUniqueViolation is the SQLSTATE of a unique_violation.
const pgUniqueViolation = "23505"

// document is the row layout.
type document struct {
	Collection string `gorm:"primaryKey;size:64"`
	ID         string `gorm:"primaryKey;size:255"`
	Revision   int64  `gorm:"not null"`
	Data       []byte `gorm:"type:bytea;not null"`
	UpdatedAt  time.Time
}

func (document) TableName() string { return "relval_documents" }

// Store is a PostgreSQL-backed document store.
type Store struct {
	db *gorm.DB
}

// New wraps an open gorm handle and migrates the schema.
func New(ctx context.Context, db *gorm.DB) (*Store, error) {
	if err := db.WithContext(ctx).AutoMigrate(&document{}); err != nil {
		return nil, fmt.Errorf("migrating documents table: %w", err)
	}
	return &Store{db: db}, nil
}

// Open connects to dsn, retrying while the database comes up, and migrates
// the schema.
func Open(ctx context.Context, dsn string, maxTries uint) (*Store, error) {
	logger := ctxlog.FromContext(ctx)
	db, err := backoff.Retry(ctx, func() (*gorm.DB, error) {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			sqlDB.Close()
			return nil, err
		}
		return db, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("Postgres not reachable, retrying.", "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	logger.Info("Connected to Postgres.")
	return New(ctx, db)
}

// Get implements store.Backend.
func (s *Store) Get(ctx context.Context, collection, id string) (store.Document, error) {
	var row document
	err := s.db.WithContext(ctx).
		Where("collection = ? AND id = ?", collection, id).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.Document{}, store.ErrNotFound
	}
	if err != nil {
		return store.Document{}, fmt.Errorf("reading %s: %w", id, err)
	}
	return store.Document{ID: row.ID, Revision: row.Revision, Data: row.Data}, nil
}

// Create implements store.Backend.
func (s *Store) Create(ctx context.Context, collection, id string, data []byte) (int64, error) {
	row := document{Collection: collection, ID: id, Revision: 1, Data: data}
	err := s.db.WithContext(ctx).Create(&row).Error
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return 0, store.ErrAlreadyExists
		}
		return 0, fmt.Errorf("creating %s: %w", id, err)
	}
	return 1, nil
}

// Update implements store.Backend.
func (s *Store) Update(ctx context.Context, collection, id string, expected int64, data []byte) (int64, error) {
	res := s.db.WithContext(ctx).Model(&document{}).
		Where("collection = ? AND id = ? AND revision = ?", collection, id, expected).
		Updates(map[string]any{
			"revision":   expected + 1,
			"data":       data,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("updating %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, s.missOrConflict(ctx, collection, id)
	}
	return expected + 1, nil
}

// Delete implements store.Backend.
func (s *Store) Delete(ctx context.Context, collection, id string, expected int64) error {
	res := s.db.WithContext(ctx).
		Where("collection = ? AND id = ? AND revision = ?", collection, id, expected).
		Delete(&document{})
	if res.Error != nil {
		return fmt.Errorf("deleting %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return s.missOrConflict(ctx, collection, id)
	}
	return nil
}

// List implements store.Backend.
func (s *Store) List(ctx context.Context, collection string) ([]store.Document, error) {
	var rows []document
	err := s.db.WithContext(ctx).
		Where("collection = ?", collection).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", collection, err)
	}
	docs := make([]store.Document, len(rows))
	for i, row := range rows {
		docs[i] = store.Document{ID: row.ID, Revision: row.Revision, Data: row.Data}
	}
	return docs, nil
}

// Close implements store.Backend.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) missOrConflict(ctx context.Context, collection, id string) error {
	var n int64
	err := s.db.WithContext(ctx).Model(&document{}).
		Where("collection = ? AND id = ?", collection, id).
		Count(&n).Error
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return store.ErrConflict
}
