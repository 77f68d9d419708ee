package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"RegimeDuel/internal/domain/models"
	"RegimeDuel/internal/domain/repository"
)

// ClickHouseJournal implements TradeJournal for ClickHouse.
type ClickHouseJournal struct {
	db    *sql.DB
	table string
}

// NewClickHouseJournal creates a ClickHouse trade journal.
func NewClickHouseJournal(db *sql.DB, table string) repository.TradeJournal {
	return &ClickHouseJournal{db: db, table: table}
}

// JournalSchema returns the DDL for the journal table.
func JournalSchema(database, table string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
    closed_at DateTime64(3, 'UTC'),
    opened_at DateTime64(3, 'UTC'),
    handle String,
    instrument LowCardinality(String),
    agent LowCardinality(String),
    shadow UInt8,
    direction LowCardinality(String),
    regime_bucket UInt8,
    entry_price Float64,
    exit_price Float64,
    size Float64,
    net_pnl Float64,
    reward Float64,
    duration_minutes Float64,
    max_adverse Float64,
    max_favorable Float64,
    reason LowCardinality(String)
) ENGINE = ReplacingMergeTree
ORDER BY (instrument, closed_at, handle)`, database, table),
	}
}

func (s *ClickHouseJournal) Init(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const journalColumns = "closed_at, opened_at, handle, instrument, agent, shadow, direction, regime_bucket, " +
	"entry_price, exit_price, size, net_pnl, reward, duration_minutes, max_adverse, max_favorable, reason"

// Record inserts one closed trade. ReplacingMergeTree on the handle makes
// queue retries idempotent.
func (s *ClickHouseJournal) Record(ctx context.Context, t models.ClosedTrade) error {
	if t.Handle == "" {
		return fmt.Errorf("journal: empty handle: %w", models.ErrInvalidInput)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", 17), ", ")
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", s.table, journalColumns, placeholders)
	shadow := uint8(0)
	if t.Shadow {
		shadow = 1
	}
	_, err := s.db.ExecContext(ctx, q,
		t.ClosedAt.UTC(),
		t.OpenedAt.UTC(),
		t.Handle,
		t.Instrument,
		t.Agent,
		shadow,
		t.Direction,
		uint8(t.RegimeBucket),
		t.EntryPrice,
		t.ExitPrice,
		t.Size,
		t.NetPnL,
		t.Reward,
		t.DurationMinutes,
		t.MaxAdverse,
		t.MaxFavorable,
		t.Reason,
	)
	if err != nil {
		return fmt.Errorf("journal insert %s: %w", t.Handle, err)
	}
	return nil
}

func (s *ClickHouseJournal) Recent(ctx context.Context, instrument string, limit int) ([]models.ClosedTrade, error) {
	if limit <= 0 {
		limit = 50
	}
	q := fmt.Sprintf("SELECT %s FROM %s FINAL WHERE instrument = ? ORDER BY closed_at DESC LIMIT ?", journalColumns, s.table)
	rows, err := s.db.QueryContext(ctx, q, instrument, limit)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var trades []models.ClosedTrade
	for rows.Next() {
		var t models.ClosedTrade
		var shadow, bucket uint8
		if err := rows.Scan(
			&t.ClosedAt, &t.OpenedAt, &t.Handle, &t.Instrument, &t.Agent, &shadow, &t.Direction, &bucket,
			&t.EntryPrice, &t.ExitPrice, &t.Size, &t.NetPnL, &t.Reward, &t.DurationMinutes,
			&t.MaxAdverse, &t.MaxFavorable, &t.Reason,
		); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		t.Shadow = shadow == 1
		t.RegimeBucket = int(bucket)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *ClickHouseJournal) Close() error {
	return nil // Managed by pkg
}
