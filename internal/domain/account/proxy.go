package account

import (
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ProxyKind — транспорт прокси.
type ProxyKind string

const (
	ProxyKindSOCKS5  ProxyKind = "socks5"
	ProxyKindSOCKS4  ProxyKind = "socks4"
	ProxyKindHTTP    ProxyKind = "http"
	ProxyKindHTTPS   ProxyKind = "https"
	ProxyKindMTProto ProxyKind = "mtproto"
)

// ProxyStatus — статус прокси в реестре.
type ProxyStatus string

const (
	ProxyStatusUnknown     ProxyStatus = "unknown"
	ProxyStatusActive      ProxyStatus = "active"
	ProxyStatusSlow        ProxyStatus = "slow"
	ProxyStatusUnavailable ProxyStatus = "unavailable"
	ProxyStatusBanned      ProxyStatus = "banned"
)

// unavailableThreshold — число подряд идущих неудач, после которого прокси
// считается unavailable.
const unavailableThreshold = 3

// slowLatency — порог задержки health-check, выше которого прокси помечается slow.
const slowLatency = 1500 * time.Millisecond

// Proxy — сущность прокси-сервера, назначаемого аккаунту.
type Proxy struct {
	ID             uuid.UUID
	Kind           ProxyKind
	Host           string
	Port           int
	Username       string
	Password       string
	Status         ProxyStatus
	FailureCount   int
	LastLatency    time.Duration
	LastCheckedAt  time.Time
	AssignedCount  int // сколько аккаунтов сейчас используют этот прокси
	MaxAssignments int
}

// RecordSuccess фиксирует успешную health-проверку и пересчитывает статус.
func (p *Proxy) RecordSuccess(latency time.Duration) {
	p.FailureCount = 0
	p.LastLatency = latency
	p.LastCheckedAt = time.Now()
	if latency > slowLatency {
		p.Status = ProxyStatusSlow
		return
	}
	p.Status = ProxyStatusActive
}

// RecordFailure фиксирует неудачную проверку/ошибку соединения и переводит
// прокси в unavailable после unavailableThreshold подряд идущих неудач.
func (p *Proxy) RecordFailure() {
	p.FailureCount++
	p.LastCheckedAt = time.Now()
	if p.FailureCount >= unavailableThreshold {
		p.Status = ProxyStatusUnavailable
	}
}

// Ban помечает прокси как забаненный Telegram — терминальный статус,
// из которого нет автоматического восстановления (требуется замена прокси).
func (p *Proxy) Ban() {
	p.Status = ProxyStatusBanned
}

// Usable сообщает, можно ли сейчас назначать этот прокси аккаунту.
func (p *Proxy) Usable() bool {
	switch p.Status {
	case ProxyStatusActive, ProxyStatusSlow, ProxyStatusUnknown:
		return p.MaxAssignments == 0 || p.AssignedCount < p.MaxAssignments
	default:
		return false
	}
}

// Endpoint возвращает host:port для дозвона через этот прокси.
func (p *Proxy) Endpoint() string {
	return p.Host + ":" + strconv.Itoa(p.Port)
}

// ProxyURL строит url.URL для http(s)-прокси в формате, понятном
// http.ProxyURL/http.Transport.
func (p *Proxy) ProxyURL() *url.URL {
	scheme := "http"
	if p.Kind == ProxyKindHTTPS {
		scheme = "https"
	}
	u := &url.URL{Scheme: scheme, Host: p.Endpoint()}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u
}
