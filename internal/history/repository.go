package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/park285/Cheese-ARBoard/internal/domain"
)

var ErrNilMatch = errors.New("nil match record")

// Repository stores finished matches keyed by session UUID.
type Repository interface {
	SaveMatch(ctx context.Context, m *domain.MatchRecord) error
	GetMatch(ctx context.Context, sessionUUID string) (*domain.MatchRecord, error)
	RecentMatches(ctx context.Context, limit int) ([]*domain.MatchRecord, error)
	Close() error
}

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository opens and pings the database behind databaseURL.
func NewPostgresRepository(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresRepository{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS arboard_matches (
	id            BIGSERIAL PRIMARY KEY,
	session_uuid  TEXT NOT NULL UNIQUE,
	game_id       INTEGER NOT NULL DEFAULT 0,
	mode          TEXT NOT NULL,
	initial_fen   TEXT NOT NULL,
	final_fen     TEXT NOT NULL,
	result        TEXT NOT NULL,
	result_method TEXT NOT NULL,
	moves_uci     JSONB NOT NULL,
	moves_san     JSONB NOT NULL,
	eco           TEXT NOT NULL DEFAULT '',
	opening       TEXT NOT NULL DEFAULT '',
	pgn           TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	ended_at      TIMESTAMPTZ NOT NULL,
	duration_ms   BIGINT NOT NULL
)`

// EnsureSchema creates the matches table when missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

func (r *PostgresRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveMatch upserts m on its session UUID.
func (r *PostgresRepository) SaveMatch(ctx context.Context, m *domain.MatchRecord) error {
	if m == nil {
		return ErrNilMatch
	}
	movesUCI, err := json.Marshal(nonNil(m.MovesUCI))
	if err != nil {
		return fmt.Errorf("marshal moves_uci: %w", err)
	}
	movesSAN, err := json.Marshal(nonNil(m.MovesSAN))
	if err != nil {
		return fmt.Errorf("marshal moves_san: %w", err)
	}

	const q = `
		INSERT INTO arboard_matches (
			session_uuid, game_id, mode, initial_fen, final_fen,
			result, result_method, moves_uci, moves_san, eco, opening, pgn,
			started_at, ended_at, duration_ms
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8::jsonb,$9::jsonb,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (session_uuid) DO UPDATE SET
			final_fen=EXCLUDED.final_fen,
			result=EXCLUDED.result,
			result_method=EXCLUDED.result_method,
			moves_uci=EXCLUDED.moves_uci,
			moves_san=EXCLUDED.moves_san,
			eco=EXCLUDED.eco,
			opening=EXCLUDED.opening,
			pgn=EXCLUDED.pgn,
			ended_at=EXCLUDED.ended_at,
			duration_ms=EXCLUDED.duration_ms
		RETURNING id`

	var id int64
	err = r.db.QueryRowContext(ctx, q,
		m.SessionUUID, m.GameID, m.Mode, m.InitialFEN, m.FinalFEN,
		m.Result, m.ResultMethod, string(movesUCI), string(movesSAN), m.ECO, m.Opening, m.PGN,
		m.StartedAt, m.EndedAt, m.Duration.Milliseconds(),
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("save match %s: %w", m.SessionUUID, err)
	}
	m.ID = id
	return nil
}

const selectColumns = `id, session_uuid, game_id, mode, initial_fen, final_fen, result, result_method,
	moves_uci, moves_san, eco, opening, pgn, started_at, ended_at, duration_ms`

func (r *PostgresRepository) GetMatch(ctx context.Context, sessionUUID string) (*domain.MatchRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM arboard_matches WHERE session_uuid = $1`, strings.TrimSpace(sessionUUID))
	m, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

func (r *PostgresRepository) RecentMatches(ctx context.Context, limit int) ([]*domain.MatchRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM arboard_matches ORDER BY ended_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.MatchRecord
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMatch(s scanner) (*domain.MatchRecord, error) {
	var (
		m          domain.MatchRecord
		uci, san   []byte
		durationMs int64
	)
	if err := s.Scan(&m.ID, &m.SessionUUID, &m.GameID, &m.Mode, &m.InitialFEN, &m.FinalFEN,
		&m.Result, &m.ResultMethod, &uci, &san, &m.ECO, &m.Opening, &m.PGN, &m.StartedAt, &m.EndedAt, &durationMs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(uci, &m.MovesUCI); err != nil {
		return nil, fmt.Errorf("decode moves_uci: %w", err)
	}
	if err := json.Unmarshal(san, &m.MovesSAN); err != nil {
		return nil, fmt.Errorf("decode moves_san: %w", err)
	}
	m.Duration = time.Duration(durationMs) * time.Millisecond
	return &m, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
