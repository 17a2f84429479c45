package campaign

import (
	"context"

	"github.com/google/uuid"
)

// Repository — хранение кампаний.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*Campaign, error)
	ListActive(ctx context.Context) ([]*Campaign, error)
	Save(ctx context.Context, c *Campaign) error
}

// TargetRepository — хранение целей кампании.
type TargetRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*UserTarget, error)
	ListPending(ctx context.Context, campaignID uuid.UUID, limit int) ([]*UserTarget, error)
	CountByStatus(ctx context.Context, campaignID uuid.UUID, status TargetStatus) (int, error)
	Save(ctx context.Context, t *UserTarget) error
}
