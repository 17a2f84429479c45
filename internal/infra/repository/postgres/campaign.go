package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"telegram-fleet/internal/domain/campaign"
)

// CampaignRepository реализует campaign.Repository поверх Postgres.
type CampaignRepository struct {
	conn *Connection
}

// NewCampaignRepository строит CampaignRepository над conn.
func NewCampaignRepository(conn *Connection) *CampaignRepository {
	return &CampaignRepository{conn: conn}
}

var _ campaign.Repository = (*CampaignRepository)(nil)

const campaignColumns = `id, name, status, goal, prompt, sending, ai_settings, stats, version`

func scanCampaign(row pgx.Row) (*campaign.Campaign, error) {
	var c campaign.Campaign
	var goalRaw, promptRaw, sendingRaw, aiRaw, statsRaw []byte
	err := row.Scan(&c.ID, &c.Name, &c.Status, &goalRaw, &promptRaw, &sendingRaw, &aiRaw, &statsRaw, &c.Version)
	if err != nil {
		return nil, err
	}
	for _, pair := range []struct {
		raw []byte
		dst any
	}{
		{goalRaw, &c.Goal}, {promptRaw, &c.Prompt}, {sendingRaw, &c.Sending},
		{aiRaw, &c.AI}, {statsRaw, &c.Stats},
	} {
		if len(pair.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
			return nil, fmt.Errorf("decode campaign sub-field: %w", err)
		}
	}
	return &c, nil
}

// Get реализует campaign.Repository.
func (r *CampaignRepository) Get(ctx context.Context, id uuid.UUID) (*campaign.Campaign, error) {
	row := r.conn.Pool().QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	return scanCampaign(row)
}

// ListActive реализует campaign.Repository.
func (r *CampaignRepository) ListActive(ctx context.Context) ([]*campaign.Campaign, error) {
	rows, err := r.conn.Pool().Query(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE status = $1`, campaign.StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*campaign.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Save реализует campaign.Repository с оптимистичной блокировкой по version.
func (r *CampaignRepository) Save(ctx context.Context, c *campaign.Campaign) error {
	goalRaw, _ := json.Marshal(c.Goal)
	promptRaw, _ := json.Marshal(c.Prompt)
	sendingRaw, _ := json.Marshal(c.Sending)
	aiRaw, _ := json.Marshal(c.AI)
	statsRaw, _ := json.Marshal(c.Stats)

	nextVersion := c.Version + 1
	tag, err := r.conn.Pool().Exec(ctx, `
		INSERT INTO campaigns (id, name, status, goal, prompt, sending, ai_settings, stats, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, status = EXCLUDED.status, goal = EXCLUDED.goal,
			prompt = EXCLUDED.prompt, sending = EXCLUDED.sending, ai_settings = EXCLUDED.ai_settings,
			stats = EXCLUDED.stats, version = EXCLUDED.version
		WHERE campaigns.version = $10`,
		c.ID, c.Name, c.Status, goalRaw, promptRaw, sendingRaw, aiRaw, statsRaw, nextVersion, c.Version)
	if err != nil {
		return fmt.Errorf("save campaign: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save campaign %s: %w", c.ID, ErrOptimisticLock)
	}
	c.Version = nextVersion
	return nil
}

// TargetRepository реализует campaign.TargetRepository поверх Postgres.
type TargetRepository struct {
	conn *Connection
}

// NewTargetRepository строит TargetRepository над conn.
func NewTargetRepository(conn *Connection) *TargetRepository { return &TargetRepository{conn: conn} }

var _ campaign.TargetRepository = (*TargetRepository)(nil)

const targetColumns = `id, campaign_id, telegram_id, username, phone, status, dialogue_id`

func scanTarget(row pgx.Row) (*campaign.UserTarget, error) {
	var t campaign.UserTarget
	if err := row.Scan(&t.ID, &t.CampaignID, &t.TelegramID, &t.Username, &t.Phone, &t.Status, &t.DialogueID); err != nil {
		return nil, err
	}
	return &t, nil
}

// Get реализует campaign.TargetRepository.
func (r *TargetRepository) Get(ctx context.Context, id uuid.UUID) (*campaign.UserTarget, error) {
	row := r.conn.Pool().QueryRow(ctx, `SELECT `+targetColumns+` FROM user_targets WHERE id = $1`, id)
	return scanTarget(row)
}

// ListPending реализует campaign.TargetRepository — до limit ожидающих целей, упорядоченных по id.
func (r *TargetRepository) ListPending(ctx context.Context, campaignID uuid.UUID, limit int) ([]*campaign.UserTarget, error) {
	rows, err := r.conn.Pool().Query(ctx, `
		SELECT `+targetColumns+` FROM user_targets
		WHERE campaign_id = $1 AND status = $2
		ORDER BY id LIMIT $3`, campaignID, campaign.TargetPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*campaign.UserTarget
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountByStatus реализует campaign.TargetRepository.
func (r *TargetRepository) CountByStatus(ctx context.Context, campaignID uuid.UUID, status campaign.TargetStatus) (int, error) {
	var n int
	err := r.conn.Pool().QueryRow(ctx,
		`SELECT count(*) FROM user_targets WHERE campaign_id = $1 AND status = $2`, campaignID, status).Scan(&n)
	return n, err
}

// Save реализует campaign.TargetRepository.
func (r *TargetRepository) Save(ctx context.Context, t *campaign.UserTarget) error {
	_, err := r.conn.Pool().Exec(ctx, `
		INSERT INTO user_targets (id, campaign_id, telegram_id, username, phone, status, dialogue_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET
			telegram_id = EXCLUDED.telegram_id, username = EXCLUDED.username, phone = EXCLUDED.phone,
			status = EXCLUDED.status, dialogue_id = EXCLUDED.dialogue_id`,
		t.ID, t.CampaignID, t.TelegramID, t.Username, t.Phone, t.Status, t.DialogueID)
	return err
}
