// Package proxy — реестр прокси флота: авторитетное состояние в памяти
// плюс bbolt-снимок для быстрого восстановления после рестарта: открыть
// bbolt, подгрузить снимок при старте, сохранять при каждом изменении
// health-состояния прокси.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"telegram-fleet/internal/domain/account"
	"telegram-fleet/internal/infra/logger"
)

const (
	bucketName  = "proxies"
	dbFileMode  = 0o600
	dbOpenWait  = time.Second
)

var bucketNameBytes = []byte(bucketName)

// ErrNotFound — в реестре нет прокси с таким id.
var ErrNotFound = errors.New("proxy: not found")

// ErrNoneAvailable — в реестре нет ни одного подходящего для назначения прокси.
var ErrNoneAvailable = errors.New("proxy: no available proxy")

// Registry хранит актуальное состояние прокси-пула. Источник истины —
// ProxyRepository (postgres); bbolt — только снимок health-состояния (статус,
// число неудач, задержка, время проверки) для быстрого восстановления, не
// каноническое хранилище. Закрепления за аккаунтами живут только в памяти и
// в снимок не пишутся.
type Registry struct {
	mu      sync.RWMutex
	proxies map[uuid.UUID]*account.Proxy
	// assigned отслеживает, какому аккаунту отдан прокси: один прокси
	// закреплён не более чем за одним аккаунтом.
	assigned map[uuid.UUID]uuid.UUID // proxyID -> accountID

	db   *bbolt.DB
	repo account.ProxyRepository
}

// New открывает bbolt-снимок по пути dbPath и связывает реестр с
// ProxyRepository как каноническим источником списка прокси.
func New(dbPath string, repo account.ProxyRepository) (*Registry, error) {
	if repo == nil {
		return nil, errors.New("proxy: repository is nil")
	}
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("proxy: ensure dir %q: %w", dir, err)
		}
	}

	db, err := bbolt.Open(dbPath, dbFileMode, &bbolt.Options{Timeout: dbOpenWait})
	if err != nil {
		return nil, fmt.Errorf("proxy: open bbolt snapshot: %w", err)
	}

	return &Registry{
		proxies:  make(map[uuid.UUID]*account.Proxy),
		assigned: make(map[uuid.UUID]uuid.UUID),
		db:       db,
		repo:     repo,
	}, nil
}

// Close закрывает bbolt-файл снимка.
func (r *Registry) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Load наполняет in-memory реестр из ProxyRepository, затем накладывает поверх
// более свежее health-состояние из bbolt-снимка (если есть).
func (r *Registry) Load(ctx context.Context) error {
	list, err := r.repo.ListUsable(ctx)
	if err != nil {
		return fmt.Errorf("proxy: list usable proxies: %w", err)
	}

	r.mu.Lock()
	for _, p := range list {
		r.proxies[p.ID] = p
	}
	r.mu.Unlock()

	snapshot, err := r.loadSnapshot()
	if err != nil {
		logger.Warnf("proxy: snapshot unreadable, starting from repository state only: %v", err)
		return nil
	}

	r.mu.Lock()
	for id, snap := range snapshot {
		if p, ok := r.proxies[id]; ok {
			p.Status = snap.Status
			p.FailureCount = snap.FailureCount
			p.LastLatency = snap.LastLatency
			p.LastCheckedAt = snap.LastCheckedAt
		}
	}
	r.mu.Unlock()
	return nil
}

// snapshotEntry — персистируемый в bbolt срез состояния одного прокси.
type snapshotEntry struct {
	Status        account.ProxyStatus `json:"status"`
	FailureCount  int                 `json:"failure_count"`
	LastLatency   time.Duration       `json:"last_latency"`
	LastCheckedAt time.Time           `json:"last_checked_at"`
}

func (r *Registry) loadSnapshot() (map[uuid.UUID]snapshotEntry, error) {
	result := make(map[uuid.UUID]snapshotEntry)
	err := r.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketNameBytes)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			id, parseErr := uuid.Parse(string(k))
			if parseErr != nil {
				return nil
			}
			var entry snapshotEntry
			if jsonErr := json.Unmarshal(v, &entry); jsonErr != nil {
				return nil
			}
			result[id] = entry
			return nil
		})
	})
	return result, err
}

// persist сохраняет (или удаляет — если p==nil) снимок одного прокси в bbolt.
func (r *Registry) persist(id uuid.UUID, p *account.Proxy) {
	err := r.db.Update(func(tx *bbolt.Tx) error {
		bucket, bErr := tx.CreateBucketIfNotExists(bucketNameBytes)
		if bErr != nil {
			return bErr
		}
		if p == nil {
			return bucket.Delete([]byte(id.String()))
		}
		entry := snapshotEntry{
			Status:        p.Status,
			FailureCount:  p.FailureCount,
			LastLatency:   p.LastLatency,
			LastCheckedAt: p.LastCheckedAt,
		}
		payload, jErr := json.Marshal(entry)
		if jErr != nil {
			return jErr
		}
		return bucket.Put([]byte(id.String()), payload)
	})
	if err != nil {
		logger.Warnf("proxy: persist snapshot for %s: %v", id, err)
	}
}

// Get возвращает копию известного прокси по id.
func (r *Registry) Get(id uuid.UUID) (*account.Proxy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.proxies[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// IsAssigned сообщает, закреплён ли прокси за каким-либо аккаунтом сейчас.
func (r *Registry) IsAssigned(id uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.assigned[id]
	return ok
}

// ListAvailable возвращает до limit прокси, которые пригодны для нового
// назначения: статус ∈ {active, slow, unknown} AND не назначен ни одному
// аккаунту.
func (r *Registry) ListAvailable(limit int) []*account.Proxy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*account.Proxy, 0, limit)
	for id, p := range r.proxies {
		if _, taken := r.assigned[id]; taken {
			continue
		}
		if !p.Usable() {
			continue
		}
		cp := *p
		result = append(result, &cp)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result
}

// GetForAccount возвращает прокси, назначенный accountID, если есть.
func (r *Registry) GetForAccount(accountID uuid.UUID) (*account.Proxy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for proxyID, acc := range r.assigned {
		if acc == accountID {
			cp := *r.proxies[proxyID]
			return &cp, true
		}
	}
	return nil, false
}

// AssignNext выбирает первый доступный прокси, не входящий в exclude
// (прокси, уже испробованные в этой попытке подключения), и закрепляет его
// за accountID.
func (r *Registry) AssignNext(ctx context.Context, accountID uuid.UUID, exclude map[uuid.UUID]bool) (*account.Proxy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, p := range r.proxies {
		if exclude[id] {
			continue
		}
		if _, taken := r.assigned[id]; taken {
			continue
		}
		if !p.Usable() {
			continue
		}
		r.assigned[id] = accountID
		p.AssignedCount++
		cp := *p
		return &cp, nil
	}
	return nil, ErrNoneAvailable
}

// Release снимает закрепление прокси за аккаунтом (освобождение при остановке
// воркера или явном переназначении).
func (r *Registry) Release(proxyID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.assigned[proxyID]; !ok {
		return
	}
	delete(r.assigned, proxyID)
	if p, ok := r.proxies[proxyID]; ok && p.AssignedCount > 0 {
		p.AssignedCount--
	}
}

// MarkActive фиксирует успешную health-проверку.
func (r *Registry) MarkActive(id uuid.UUID, latency time.Duration) {
	r.mu.Lock()
	p, ok := r.proxies[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	p.RecordSuccess(latency)
	cp := *p
	r.mu.Unlock()
	r.persist(id, &cp)
}

// MarkFailed фиксирует неудачную проверку/ошибку соединения.
func (r *Registry) MarkFailed(id uuid.UUID) {
	r.mu.Lock()
	p, ok := r.proxies[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	p.RecordFailure()
	cp := *p
	r.mu.Unlock()
	r.persist(id, &cp)
}

// Ban переводит прокси в терминальный статус banned (Telegram-бан).
func (r *Registry) Ban(id uuid.UUID) {
	r.mu.Lock()
	p, ok := r.proxies[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	p.Ban()
	cp := *p
	r.mu.Unlock()
	r.persist(id, &cp)
}

// Snapshot возвращает копии всех известных прокси, для health-check циклов
// и операторской CLI.
func (r *Registry) Snapshot() []*account.Proxy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*account.Proxy, 0, len(r.proxies))
	for _, p := range r.proxies {
		cp := *p
		result = append(result, &cp)
	}
	return result
}
