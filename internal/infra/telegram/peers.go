package telegram

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bboltdb "github.com/gotd/contrib/bbolt"
	contribstorage "github.com/gotd/contrib/storage"
	"github.com/gotd/td/telegram/peers"
	"github.com/gotd/td/tg"
	"go.etcd.io/bbolt"
)

const (
	peersBucketName           = "peers"
	peersDBFileMode os.FileMode = 0o600
	peersDBOpenWait             = time.Second
)

var peersBucketBytes = []byte(peersBucketName)

// peerResolver кэширует резолвы user/chat/channel для одного аккаунта поверх
// gotd/td peers.Manager, заведённый на один клиент вместо процесс-глобального
// сервиса. peers.Manager построен без хранилища, поэтому кэш живёт только в
// памяти: bbolt-файл открывается и закрывается вместе с резолвером, но резолвы
// в него не пишутся и из него не читаются.
type peerResolver struct {
	db  *bbolt.DB
	mgr *peers.Manager
}

// newPeerResolver открывает (или создаёт) bbolt-файл кэша пиров для
// accountID и строит поверх него peers.Manager.
func newPeerResolver(api *tg.Client, dbPath string) (*peerResolver, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("peers: ensure dir %q: %w", dir, err)
		}
	}

	db, err := bbolt.Open(dbPath, peersDBFileMode, &bbolt.Options{Timeout: peersDBOpenWait})
	if err != nil {
		return nil, fmt.Errorf("peers: open bbolt cache: %w", err)
	}

	return &peerResolver{
		db:  db,
		mgr: (peers.Options{}).Build(api),
	}, nil
}

// store возвращает персистентное хранилище пиров для подключения к
// updhook.UpdateHook.
func (r *peerResolver) store() contribstorage.PeerStorage {
	return bboltdb.NewPeerStorage(r.db, peersBucketBytes)
}

func (r *peerResolver) close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// resolveUser резолвит пользователя по numeric id, используя in-memory кэш
// peers.Manager (без сетевого вызова, если пользователь уже известен).
func (r *peerResolver) resolveUser(ctx context.Context, userID int64) (tg.InputPeerClass, error) {
	user, err := r.mgr.ResolveUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("peers: resolve user %d: %w", userID, err)
	}
	return user.InputPeer(), nil
}

// resolveUsername резолвит @username/t.me/name через MTProto (contacts.resolveUsername
// под капотом peers.Manager), используется для join/leave по публичной ссылке.
func (r *peerResolver) resolveUsername(ctx context.Context, username string) (peers.Peer, error) {
	p, err := r.mgr.ResolveDomain(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("peers: resolve @%s: %w", username, err)
	}
	return p, nil
}
