package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"telegram-fleet/internal/domain/dialogue"
)

// DialogueRepository реализует dialogue.Repository поверх Postgres.
type DialogueRepository struct {
	conn *Connection
}

// NewDialogueRepository строит DialogueRepository над conn.
func NewDialogueRepository(conn *Connection) *DialogueRepository {
	return &DialogueRepository{conn: conn}
}

var _ dialogue.Repository = (*DialogueRepository)(nil)

const dialogueColumns = `id, account_id, campaign_id, target_id, telegram_user_id, status, messages,
	goal_message_sent, goal_sent_at, next_action_at, retry_count, max_retries,
	last_user_response_at, interest_score, link_sent_count, needs_review, creative_sent,
	fail_reason, version`

func scanDialogue(row pgx.Row) (*dialogue.Dialogue, error) {
	var d dialogue.Dialogue
	var messagesRaw []byte
	err := row.Scan(&d.ID, &d.AccountID, &d.CampaignID, &d.TargetID, &d.TelegramUserID, &d.Status, &messagesRaw,
		&d.GoalMessageSent, &d.GoalSentAt, &d.NextActionAt, &d.RetryCount, &d.MaxRetries,
		&d.LastUserResponseAt, &d.InterestScore, &d.LinkSentCount, &d.NeedsReview, &d.CreativeSent,
		&d.FailReason, &d.Version)
	if err != nil {
		return nil, err
	}
	if len(messagesRaw) > 0 {
		if err := json.Unmarshal(messagesRaw, &d.Messages); err != nil {
			return nil, fmt.Errorf("decode dialogue messages: %w", err)
		}
	}
	return &d, nil
}

// Get реализует dialogue.Repository.
func (r *DialogueRepository) Get(ctx context.Context, id uuid.UUID) (*dialogue.Dialogue, error) {
	row := r.conn.Pool().QueryRow(ctx, `SELECT `+dialogueColumns+` FROM dialogues WHERE id = $1`, id)
	return scanDialogue(row)
}

// GetByAccountAndUser реализует dialogue.Repository — поиск диалога, к которому
// относится входящее сообщение.
func (r *DialogueRepository) GetByAccountAndUser(ctx context.Context, accountID uuid.UUID, telegramUserID int64) (*dialogue.Dialogue, error) {
	row := r.conn.Pool().QueryRow(ctx,
		`SELECT `+dialogueColumns+` FROM dialogues WHERE account_id = $1 AND telegram_user_id = $2
		 ORDER BY next_action_at DESC LIMIT 1`, accountID, telegramUserID)
	return scanDialogue(row)
}

// ListActiveByAccount реализует dialogue.Repository.
func (r *DialogueRepository) ListActiveByAccount(ctx context.Context, accountID uuid.UUID) ([]*dialogue.Dialogue, error) {
	rows, err := r.conn.Pool().Query(ctx,
		`SELECT `+dialogueColumns+` FROM dialogues
		 WHERE account_id = $1 AND status NOT IN ($2,$3,$4)`,
		accountID, dialogue.StatusCompleted, dialogue.StatusFailed, dialogue.StatusExpired)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*dialogue.Dialogue
	for rows.Next() {
		d, err := scanDialogue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Save реализует dialogue.Repository. Если checkVersion ложен (вызовы из-под
// замка per-dialogue у воркера), запись безусловна — обычный UPSERT с
// инкрементом version без CAS-условия, так как мьютекс уже исключает
// параллельных писателей для этого диалога. Остальные вызовы передают true
// и получают обычную оптимистичную блокировку.
func (r *DialogueRepository) Save(ctx context.Context, d *dialogue.Dialogue, checkVersion bool) error {
	messagesRaw, err := json.Marshal(d.Messages)
	if err != nil {
		return fmt.Errorf("encode dialogue messages: %w", err)
	}
	nextVersion := d.Version + 1

	const upsert = `
		INSERT INTO dialogues (id, account_id, campaign_id, target_id, telegram_user_id, status, messages,
			goal_message_sent, goal_sent_at, next_action_at, retry_count, max_retries,
			last_user_response_at, interest_score, link_sent_count, needs_review, creative_sent,
			fail_reason, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, messages = EXCLUDED.messages,
			goal_message_sent = EXCLUDED.goal_message_sent, goal_sent_at = EXCLUDED.goal_sent_at,
			next_action_at = EXCLUDED.next_action_at, retry_count = EXCLUDED.retry_count,
			max_retries = EXCLUDED.max_retries, last_user_response_at = EXCLUDED.last_user_response_at,
			interest_score = EXCLUDED.interest_score, link_sent_count = EXCLUDED.link_sent_count,
			needs_review = EXCLUDED.needs_review, creative_sent = EXCLUDED.creative_sent,
			fail_reason = EXCLUDED.fail_reason, version = EXCLUDED.version`

	args := []any{d.ID, d.AccountID, d.CampaignID, d.TargetID, d.TelegramUserID, d.Status, messagesRaw,
		d.GoalMessageSent, d.GoalSentAt, d.NextActionAt, d.RetryCount, d.MaxRetries,
		d.LastUserResponseAt, d.InterestScore, d.LinkSentCount, d.NeedsReview, d.CreativeSent,
		d.FailReason, nextVersion}

	if !checkVersion {
		if _, err := r.conn.Pool().Exec(ctx, upsert, args...); err != nil {
			return fmt.Errorf("save dialogue: %w", err)
		}
		d.Version = nextVersion
		return nil
	}

	tag, err := r.conn.Pool().Exec(ctx, upsert+` WHERE dialogues.version = $20`, append(args, d.Version)...)
	if err != nil {
		return fmt.Errorf("save dialogue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save dialogue %s: %w", d.ID, dialogue.ErrVersionConflict)
	}
	d.Version = nextVersion
	return nil
}
