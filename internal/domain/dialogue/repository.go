package dialogue

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Repository — хранение диалогов.
//
// Save принимает явный checkVersion: воркер, удерживающий per-dialogue мьютекс
// (см. internal/worker), вызывает Save(ctx, d, false) — конкурентной гонки за
// версию там в принципе быть не может, а лишний CAS по version только наказывал
// бы нормальный путь. Любой другой вызывающий код (CLI, менеджер, фоновые
// джобы) обязан передавать true и соблюдать обычную оптимistic-lock семантику.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*Dialogue, error)
	GetByAccountAndUser(ctx context.Context, accountID uuid.UUID, telegramUserID int64) (*Dialogue, error)
	ListActiveByAccount(ctx context.Context, accountID uuid.UUID) ([]*Dialogue, error)
	Save(ctx context.Context, d *Dialogue, checkVersion bool) error
}

// ErrVersionConflict указывает на гонку за version при checkVersion=true.
var ErrVersionConflict = errors.New("dialogue: version conflict on save")
