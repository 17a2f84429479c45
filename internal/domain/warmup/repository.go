package warmup

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists account warm-up progress and serves the warm-up
// profiles, channel/group pools and personas it is scored against.
type Repository interface {
	Get(ctx context.Context, accountID uuid.UUID) (*AccountWarmup, error)
	Save(ctx context.Context, w *AccountWarmup) error
	GetProfile(ctx context.Context, id uuid.UUID) (*Profile, error)
	ListChannels(ctx context.Context) ([]*Channel, error)
	ListGroups(ctx context.Context) ([]*Group, error)
	GetPersona(ctx context.Context, accountID uuid.UUID) (*Persona, error)
}
