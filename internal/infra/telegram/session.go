package telegram

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	tdsession "github.com/gotd/td/session"

	"telegram-fleet/internal/domain/account"
	"telegram-fleet/internal/infra/vault"
)

// vaultSessionStorage реализует tdsession.Storage поверх account.Repository,
// шифруя/нормализуя сессию через vault.Vault вместо простого файла на
// диске — во флоте сессия одного аккаунта не имеет собственного файла,
// она одна из полей строки
// БД, и должна жить зашифрованной в покое.
type vaultSessionStorage struct {
	vault     *vault.Vault
	repo      account.Repository
	accountID account.Account // держим снимок аккаунта только ради ID

	mu      sync.Mutex
	current []byte // нормализованная (не зашифрованная) сессия в памяти, кэш последнего Load/Store
}

var _ tdsession.Storage = (*vaultSessionStorage)(nil)

// newVaultSessionStorage подготавливает хранилище сессии для одного аккаунта,
// расшифровывая и нормализуя initial (если есть) сразу при создании —
// ошибки расшифровки должны всплывать до попытки подключения, а не посреди
// первого LoadSession.
func newVaultSessionStorage(v *vault.Vault, repo account.Repository, acc *account.Account) (*vaultSessionStorage, error) {
	s := &vaultSessionStorage{vault: v, repo: repo, accountID: *acc}

	if len(acc.EncryptedSession) == 0 {
		return s, nil
	}

	plain, err := v.Decrypt(acc.EncryptedSession)
	if err != nil {
		return nil, errors.Wrap(err, "decrypt session")
	}
	normalized, err := vault.NormalizeSession(plain)
	if err != nil {
		return nil, errors.Wrap(err, "normalize session")
	}
	s.current = normalized
	return s, nil
}

// LoadSession отдаёт нормализованную сессию из памяти; tdsession.ErrNotFound,
// если аккаунт ещё ни разу не авторизовался.
func (s *vaultSessionStorage) LoadSession(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.current) == 0 {
		return nil, tdsession.ErrNotFound
	}
	cp := make([]byte, len(s.current))
	copy(cp, s.current)
	return cp, nil
}

// StoreSession шифрует обновлённую сессию и сохраняет её в account.Repository
// (единственный источник истины — строка аккаунта, не отдельный файл).
func (s *vaultSessionStorage) StoreSession(ctx context.Context, data []byte) error {
	encrypted, err := s.vault.Encrypt(data)
	if err != nil {
		return errors.Wrap(err, "encrypt session")
	}

	s.mu.Lock()
	s.current = append([]byte(nil), data...)
	s.mu.Unlock()

	acc, err := s.repo.Get(ctx, s.accountID.ID)
	if err != nil {
		return errors.Wrap(err, "load account for session persist")
	}
	acc.EncryptedSession = encrypted
	return s.repo.Save(ctx, acc)
}
