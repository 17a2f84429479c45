package account

import (
	"context"

	"github.com/google/uuid"
)

// Repository — узкий интерфейс хранения аккаунтов, реализуемый слоем
// персистентности (postgres) и потребляемый воркером/менеджером без знания
// о конкретной СУБД.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*Account, error)
	ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*Account, error)
	ListActive(ctx context.Context) ([]*Account, error)
	Save(ctx context.Context, a *Account) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
}

// ProxyRepository — хранение прокси-пула.
type ProxyRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*Proxy, error)
	ListUsable(ctx context.Context) ([]*Proxy, error)
	Save(ctx context.Context, p *Proxy) error
}

// TelegramAppRepository — хранение зарегистрированных api_id/api_hash приложений.
type TelegramAppRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*TelegramApp, error)
	ListAvailable(ctx context.Context) ([]*TelegramApp, error)
	Save(ctx context.Context, app *TelegramApp) error
}
