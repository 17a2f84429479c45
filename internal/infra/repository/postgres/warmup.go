package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"telegram-fleet/internal/domain/warmup"
)

// WarmupRepository реализует warmup.Repository поверх Postgres.
type WarmupRepository struct {
	conn *Connection
}

// NewWarmupRepository строит WarmupRepository над conn.
func NewWarmupRepository(conn *Connection) *WarmupRepository {
	return &WarmupRepository{conn: conn}
}

var _ warmup.Repository = (*WarmupRepository)(nil)

const warmupColumns = `account_id, profile_id, stage, status, daily_counters, daily_reset_hour,
	flood_wait_until, started_at`

func scanWarmup(row pgx.Row) (*warmup.AccountWarmup, error) {
	var w warmup.AccountWarmup
	var countersRaw []byte
	err := row.Scan(&w.AccountID, &w.ProfileID, &w.Stage, &w.Status, &countersRaw, &w.DailyResetHour,
		&w.FloodWaitUntil, &w.StartedAt)
	if err != nil {
		return nil, err
	}
	if len(countersRaw) > 0 {
		if err := json.Unmarshal(countersRaw, &w.DailyCounters); err != nil {
			return nil, fmt.Errorf("decode warmup counters: %w", err)
		}
	}
	return &w, nil
}

// Get реализует warmup.Repository.
func (r *WarmupRepository) Get(ctx context.Context, accountID uuid.UUID) (*warmup.AccountWarmup, error) {
	row := r.conn.Pool().QueryRow(ctx, `SELECT `+warmupColumns+` FROM account_warmups WHERE account_id = $1`, accountID)
	return scanWarmup(row)
}

// Save реализует warmup.Repository. У AccountWarmup нет поля version —
// единственный писатель на аккаунт — его собственная горутина воркера.
func (r *WarmupRepository) Save(ctx context.Context, w *warmup.AccountWarmup) error {
	countersRaw, err := json.Marshal(w.DailyCounters)
	if err != nil {
		return fmt.Errorf("encode warmup counters: %w", err)
	}
	_, err = r.conn.Pool().Exec(ctx, `
		INSERT INTO account_warmups (account_id, profile_id, stage, status, daily_counters,
			daily_reset_hour, flood_wait_until, started_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (account_id) DO UPDATE SET
			profile_id = EXCLUDED.profile_id, stage = EXCLUDED.stage, status = EXCLUDED.status,
			daily_counters = EXCLUDED.daily_counters, daily_reset_hour = EXCLUDED.daily_reset_hour,
			flood_wait_until = EXCLUDED.flood_wait_until, started_at = EXCLUDED.started_at`,
		w.AccountID, w.ProfileID, w.Stage, w.Status, countersRaw,
		w.DailyResetHour, w.FloodWaitUntil, w.StartedAt)
	return err
}

// GetProfile реализует warmup.Repository.
func (r *WarmupRepository) GetProfile(ctx context.Context, id uuid.UUID) (*warmup.Profile, error) {
	var p warmup.Profile
	var stagesRaw []byte
	err := r.conn.Pool().QueryRow(ctx,
		`SELECT id, name, stages FROM warmup_profiles WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &stagesRaw)
	if err != nil {
		return nil, err
	}
	if len(stagesRaw) > 0 {
		if err := json.Unmarshal(stagesRaw, &p.Stages); err != nil {
			return nil, fmt.Errorf("decode warmup profile stages: %w", err)
		}
	}
	return &p, nil
}

// ListChannels реализует warmup.Repository — пул кандидатов для цикла
// прогрева (вступление/реакция/скролл).
func (r *WarmupRepository) ListChannels(ctx context.Context) ([]*warmup.Channel, error) {
	rows, err := r.conn.Pool().Query(ctx, `SELECT id, username, weight FROM warmup_channels`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*warmup.Channel
	for rows.Next() {
		var c warmup.Channel
		if err := rows.Scan(&c.ID, &c.Username, &c.Weight); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// ListGroups реализует warmup.Repository.
func (r *WarmupRepository) ListGroups(ctx context.Context) ([]*warmup.Group, error) {
	rows, err := r.conn.Pool().Query(ctx, `SELECT id, username, weight FROM warmup_groups`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*warmup.Group
	for rows.Next() {
		var g warmup.Group
		if err := rows.Scan(&g.ID, &g.Username, &g.Weight); err != nil {
			return nil, err
		}
		out = append(out, &g)
	}
	return out, rows.Err()
}

// GetPersona реализует warmup.Repository — задаёт тайминги фоновой
// активности и имитации набора текста.
func (r *WarmupRepository) GetPersona(ctx context.Context, accountID uuid.UUID) (*warmup.Persona, error) {
	var p warmup.Persona
	err := r.conn.Pool().QueryRow(ctx,
		`SELECT account_id, typing_chars_per_sec, active_hour_start, active_hour_end, reaction_probability
		 FROM account_personas WHERE account_id = $1`, accountID).
		Scan(&p.AccountID, &p.TypingCharsPerSec, &p.ActiveHourStart, &p.ActiveHourEnd, &p.ReactionProbability)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
