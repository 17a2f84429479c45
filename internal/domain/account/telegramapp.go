package account

import "github.com/google/uuid"

// recommendedMaxAccounts — мягкая рекомендация Telegram: не более 20-30
// живых сессий на один api_id/api_hash, прежде чем растёт риск flood-wait
// и банов на уровне приложения.
const recommendedMaxAccounts = 25

// TelegramApp — зарегистрированное приложение (api_id/api_hash), под которым
// работает пул аккаунтов.
type TelegramApp struct {
	ID                  uuid.UUID
	Title               string
	APIID               int
	APIHash             string
	DeviceModel         string
	SystemVersion       string
	AppVersion          string
	LangCode            string
	CurrentAccountCount int
	MaxAccounts         int
}

// CanAcceptAccount сообщает, можно ли привязать к приложению ещё один аккаунт.
func (a *TelegramApp) CanAcceptAccount() bool {
	max := a.MaxAccounts
	if max == 0 {
		max = recommendedMaxAccounts
	}
	return a.CurrentAccountCount < max
}

// OverRecommendedLoad сообщает, превышена ли мягкая рекомендация Telegram,
// даже если явный MaxAccounts выше и формально ещё разрешает приём.
func (a *TelegramApp) OverRecommendedLoad() bool {
	return a.CurrentAccountCount >= recommendedMaxAccounts
}
