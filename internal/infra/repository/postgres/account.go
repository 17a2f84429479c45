package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"telegram-fleet/internal/domain/account"
)

// AccountRepository реализует account.Repository поверх Postgres.
type AccountRepository struct {
	conn *Connection
}

// NewAccountRepository строит AccountRepository над conn.
func NewAccountRepository(conn *Connection) *AccountRepository {
	return &AccountRepository{conn: conn}
}

var _ account.Repository = (*AccountRepository)(nil)

// scheduleJSON — сериализуемая форма Schedule: time.Duration/time.Weekday/
// *time.Location не проходят через database/sql напрямую, поэтому репозиторий
// сохраняет/читает это узкое представление отдельно.
type scheduleJSON struct {
	StartTimeNS    int64   `json:"start_time_ns"`
	EndTimeNS      int64   `json:"end_time_ns"`
	ActiveWeekdays []int   `json:"active_weekdays"`
	TZ             string  `json:"tz"`
	SleepEnabled   bool    `json:"sleep_enabled"`
	SleepBaseHour  int     `json:"sleep_base_hour"`
	SleepDurationNS int64  `json:"sleep_duration_ns"`
}

func scheduleToJSON(s account.Schedule) ([]byte, error) {
	tz := "UTC"
	if s.TZ != nil {
		tz = s.TZ.String()
	}
	var days []int
	for d, on := range s.ActiveWeekdays {
		if on {
			days = append(days, int(d))
		}
	}
	return json.Marshal(scheduleJSON{
		StartTimeNS: int64(s.StartTime), EndTimeNS: int64(s.EndTime),
		ActiveWeekdays: days, TZ: tz, SleepEnabled: s.SleepEnabled,
		SleepBaseHour: s.SleepBaseHour, SleepDurationNS: int64(s.SleepDuration),
	})
}

func scheduleFromJSON(raw []byte) (account.Schedule, error) {
	var j scheduleJSON
	if len(raw) == 0 {
		return account.Schedule{}, nil
	}
	if err := json.Unmarshal(raw, &j); err != nil {
		return account.Schedule{}, err
	}
	loc, err := time.LoadLocation(j.TZ)
	if err != nil {
		loc = time.UTC
	}
	weekdays := make(map[time.Weekday]bool, len(j.ActiveWeekdays))
	for _, d := range j.ActiveWeekdays {
		weekdays[time.Weekday(d)] = true
	}
	return account.Schedule{
		StartTime: time.Duration(j.StartTimeNS), EndTime: time.Duration(j.EndTimeNS),
		ActiveWeekdays: weekdays, TZ: loc, SleepEnabled: j.SleepEnabled,
		SleepBaseHour: j.SleepBaseHour, SleepDuration: time.Duration(j.SleepDurationNS),
	}, nil
}

const accountColumns = `id, phone, encrypted_session, proxy_id, telegram_app_id, status,
	schedule, limits, counters, campaign_id, last_activity_at, version`

func (r *AccountRepository) scan(row pgx.Row) (*account.Account, error) {
	var a account.Account
	var scheduleRaw, limitsRaw, countersRaw []byte

	err := row.Scan(&a.ID, &a.Phone, &a.EncryptedSession, &a.ProxyID, &a.TelegramAppID, &a.Status,
		&scheduleRaw, &limitsRaw, &countersRaw, &a.CampaignID, &a.LastActivityAt, &a.Version)
	if err != nil {
		return nil, err
	}
	if a.Schedule, err = scheduleFromJSON(scheduleRaw); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}
	if len(limitsRaw) > 0 {
		if err := json.Unmarshal(limitsRaw, &a.Limits); err != nil {
			return nil, fmt.Errorf("decode limits: %w", err)
		}
	}
	if len(countersRaw) > 0 {
		if err := json.Unmarshal(countersRaw, &a.Counters); err != nil {
			return nil, fmt.Errorf("decode counters: %w", err)
		}
	}
	return &a, nil
}

// Get реализует account.Repository.
func (r *AccountRepository) Get(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	row := r.conn.Pool().QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return r.scan(row)
}

// ListByCampaign реализует account.Repository.
func (r *AccountRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*account.Account, error) {
	rows, err := r.conn.Pool().Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE campaign_id = $1`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

// ListActive реализует account.Repository.
func (r *AccountRepository) ListActive(ctx context.Context) ([]*account.Account, error) {
	rows, err := r.conn.Pool().Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE status = $1`, account.StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *AccountRepository) collect(rows pgx.Rows) ([]*account.Account, error) {
	var out []*account.Account
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Save реализует account.Repository с оптимистичной блокировкой по version.
func (r *AccountRepository) Save(ctx context.Context, a *account.Account) error {
	scheduleRaw, err := scheduleToJSON(a.Schedule)
	if err != nil {
		return fmt.Errorf("encode schedule: %w", err)
	}
	limitsRaw, err := json.Marshal(a.Limits)
	if err != nil {
		return fmt.Errorf("encode limits: %w", err)
	}
	countersRaw, err := json.Marshal(a.Counters)
	if err != nil {
		return fmt.Errorf("encode counters: %w", err)
	}

	nextVersion := a.Version + 1
	tag, err := r.conn.Pool().Exec(ctx, `
		INSERT INTO accounts (id, phone, encrypted_session, proxy_id, telegram_app_id, status,
			schedule, limits, counters, campaign_id, last_activity_at, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			phone = EXCLUDED.phone, encrypted_session = EXCLUDED.encrypted_session,
			proxy_id = EXCLUDED.proxy_id, telegram_app_id = EXCLUDED.telegram_app_id,
			status = EXCLUDED.status, schedule = EXCLUDED.schedule, limits = EXCLUDED.limits,
			counters = EXCLUDED.counters, campaign_id = EXCLUDED.campaign_id,
			last_activity_at = EXCLUDED.last_activity_at, version = EXCLUDED.version
		WHERE accounts.version = $13`,
		a.ID, a.Phone, a.EncryptedSession, a.ProxyID, a.TelegramAppID, a.Status,
		scheduleRaw, limitsRaw, countersRaw, a.CampaignID, a.LastActivityAt, nextVersion, a.Version)
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save account %s: %w", a.ID, ErrOptimisticLock)
	}
	a.Version = nextVersion
	return nil
}

// UpdateStatus реализует account.Repository.
func (r *AccountRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status account.Status) error {
	_, err := r.conn.Pool().Exec(ctx, `UPDATE accounts SET status = $1, version = version + 1 WHERE id = $2`, status, id)
	return err
}

// ProxyRepository реализует account.ProxyRepository поверх Postgres.
type ProxyRepository struct {
	conn *Connection
}

// NewProxyRepository строит ProxyRepository над conn.
func NewProxyRepository(conn *Connection) *ProxyRepository { return &ProxyRepository{conn: conn} }

var _ account.ProxyRepository = (*ProxyRepository)(nil)

const proxyColumns = `id, kind, host, port, username, password, status, failure_count,
	last_latency_ns, last_checked_at, assigned_count, max_assignments`

func scanProxy(row pgx.Row) (*account.Proxy, error) {
	var p account.Proxy
	var latencyNS int64
	err := row.Scan(&p.ID, &p.Kind, &p.Host, &p.Port, &p.Username, &p.Password, &p.Status,
		&p.FailureCount, &latencyNS, &p.LastCheckedAt, &p.AssignedCount, &p.MaxAssignments)
	if err != nil {
		return nil, err
	}
	p.LastLatency = time.Duration(latencyNS)
	return &p, nil
}

// Get реализует account.ProxyRepository.
func (r *ProxyRepository) Get(ctx context.Context, id uuid.UUID) (*account.Proxy, error) {
	row := r.conn.Pool().QueryRow(ctx, `SELECT `+proxyColumns+` FROM proxies WHERE id = $1`, id)
	return scanProxy(row)
}

// ListUsable реализует account.ProxyRepository.
func (r *ProxyRepository) ListUsable(ctx context.Context) ([]*account.Proxy, error) {
	rows, err := r.conn.Pool().Query(ctx, `SELECT `+proxyColumns+` FROM proxies WHERE status != $1`, account.ProxyStatusBanned)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*account.Proxy
	for rows.Next() {
		p, err := scanProxy(rows)
		if err != nil {
			return nil, err
		}
		if p.Usable() {
			out = append(out, p)
		}
	}
	return out, rows.Err()
}

// Save реализует account.ProxyRepository.
func (r *ProxyRepository) Save(ctx context.Context, p *account.Proxy) error {
	_, err := r.conn.Pool().Exec(ctx, `
		INSERT INTO proxies (id, kind, host, port, username, password, status, failure_count,
			last_latency_ns, last_checked_at, assigned_count, max_assignments)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind, host = EXCLUDED.host, port = EXCLUDED.port,
			username = EXCLUDED.username, password = EXCLUDED.password, status = EXCLUDED.status,
			failure_count = EXCLUDED.failure_count, last_latency_ns = EXCLUDED.last_latency_ns,
			last_checked_at = EXCLUDED.last_checked_at, assigned_count = EXCLUDED.assigned_count,
			max_assignments = EXCLUDED.max_assignments`,
		p.ID, p.Kind, p.Host, p.Port, p.Username, p.Password, p.Status, p.FailureCount,
		int64(p.LastLatency), p.LastCheckedAt, p.AssignedCount, p.MaxAssignments)
	return err
}

// TelegramAppRepository реализует account.TelegramAppRepository поверх Postgres.
type TelegramAppRepository struct {
	conn *Connection
}

// NewTelegramAppRepository строит TelegramAppRepository над conn.
func NewTelegramAppRepository(conn *Connection) *TelegramAppRepository {
	return &TelegramAppRepository{conn: conn}
}

var _ account.TelegramAppRepository = (*TelegramAppRepository)(nil)

const telegramAppColumns = `id, title, api_id, api_hash, device_model, system_version,
	app_version, lang_code, current_account_count, max_accounts`

func scanTelegramApp(row pgx.Row) (*account.TelegramApp, error) {
	var a account.TelegramApp
	err := row.Scan(&a.ID, &a.Title, &a.APIID, &a.APIHash, &a.DeviceModel, &a.SystemVersion,
		&a.AppVersion, &a.LangCode, &a.CurrentAccountCount, &a.MaxAccounts)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Get реализует account.TelegramAppRepository.
func (r *TelegramAppRepository) Get(ctx context.Context, id uuid.UUID) (*account.TelegramApp, error) {
	row := r.conn.Pool().QueryRow(ctx, `SELECT `+telegramAppColumns+` FROM telegram_apps WHERE id = $1`, id)
	return scanTelegramApp(row)
}

// ListAvailable реализует account.TelegramAppRepository.
func (r *TelegramAppRepository) ListAvailable(ctx context.Context) ([]*account.TelegramApp, error) {
	rows, err := r.conn.Pool().Query(ctx, `SELECT `+telegramAppColumns+` FROM telegram_apps`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*account.TelegramApp
	for rows.Next() {
		a, err := scanTelegramApp(rows)
		if err != nil {
			return nil, err
		}
		if a.CanAcceptAccount() {
			out = append(out, a)
		}
	}
	return out, rows.Err()
}

// Save реализует account.TelegramAppRepository.
func (r *TelegramAppRepository) Save(ctx context.Context, app *account.TelegramApp) error {
	_, err := r.conn.Pool().Exec(ctx, `
		INSERT INTO telegram_apps (id, title, api_id, api_hash, device_model, system_version,
			app_version, lang_code, current_account_count, max_accounts)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title, api_id = EXCLUDED.api_id, api_hash = EXCLUDED.api_hash,
			device_model = EXCLUDED.device_model, system_version = EXCLUDED.system_version,
			app_version = EXCLUDED.app_version, lang_code = EXCLUDED.lang_code,
			current_account_count = EXCLUDED.current_account_count, max_accounts = EXCLUDED.max_accounts`,
		app.ID, app.Title, app.APIID, app.APIHash, app.DeviceModel, app.SystemVersion,
		app.AppVersion, app.LangCode, app.CurrentAccountCount, app.MaxAccounts)
	return err
}
