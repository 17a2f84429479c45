package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gotd/td/tgerr"
)

// ErrFlood — FLOOD_WAIT/FLOOD_PREMIUM_WAIT: вызывающий должен подождать Wait
// и повторить задачу один раз через приоритетную постановку в очередь.
type ErrFlood struct {
	Wait time.Duration
}

func (e *ErrFlood) Error() string { return fmt.Sprintf("telegram: flood wait %s", e.Wait) }

// ErrPrivacy — получатель закрыл личные сообщения/запретил запись в чат.
// Не повторять: диалог и цель переводятся в failed("privacy_settings").
type ErrPrivacy struct{ Raw error }

func (e *ErrPrivacy) Error() string { return fmt.Sprintf("telegram: privacy restricted: %v", e.Raw) }
func (e *ErrPrivacy) Unwrap() error { return e.Raw }

// ErrPeerFlood — PEER_FLOOD, трактуется как Flood(3600).
type ErrPeerFlood struct{}

func (e *ErrPeerFlood) Error() string { return "telegram: peer flood" }

// ErrAuth — сессия отозвана/дублирован auth key/аккаунт деактивирован.
// Воркер должен остановиться с error, без автоматического перезапуска.
type ErrAuth struct{ Raw error }

func (e *ErrAuth) Error() string { return fmt.Sprintf("telegram: auth error: %v", e.Raw) }
func (e *ErrAuth) Unwrap() error { return e.Raw }

// ErrNetwork — соединение/прокси недоступны; вызывающий должен пометить
// текущий прокси failed и попробовать другой.
type ErrNetwork struct{ Raw error }

func (e *ErrNetwork) Error() string { return fmt.Sprintf("telegram: network error: %v", e.Raw) }
func (e *ErrNetwork) Unwrap() error { return e.Raw }

// ErrTimeout — операция не уложилась в контекстный дедлайн.
type ErrTimeout struct{ Raw error }

func (e *ErrTimeout) Error() string { return fmt.Sprintf("telegram: timeout: %v", e.Raw) }
func (e *ErrTimeout) Unwrap() error { return e.Raw }

// peerFloodWait — фиксированная пауза для PEER_FLOOD, не сопровождаемого
// сервером длительностью ожидания.
const peerFloodWait = 3600 * time.Second

// FloodWait извлекает длительность ожидания из классифицированной ошибки
// (ErrFlood.Wait или фиксированные 3600s для ErrPeerFlood), если err вообще
// является флудом; иначе возвращает (0, false). Вызывающий обязан
// синхронно выждать это время перед повторной постановкой задачи в очередь.
func FloodWait(err error) (time.Duration, bool) {
	var flood *ErrFlood
	if errors.As(err, &flood) {
		return flood.Wait, true
	}
	var peerFlood *ErrPeerFlood
	if errors.As(err, &peerFlood) {
		return peerFloodWait, true
	}
	return 0, false
}

// privacyRPCTypes перечисляет типы MTProto-ошибок, которые означают, что
// получатель ограничил приём сообщений от незнакомцев.
var privacyRPCTypes = map[string]bool{
	"USER_PRIVACY_RESTRICTED": true,
	"PRIVACY_PREMIUM_REQUIRED": true,
	"CHAT_WRITE_FORBIDDEN":     true,
	"USER_IS_BLOCKED":          true,
}

// authRPCTypes перечисляет типы ошибок, означающие потерю авторизации —
// сессия отозвана, ключ продублирован другим клиентом, аккаунт деактивирован.
var authRPCTypes = map[string]bool{
	"AUTH_KEY_UNREGISTERED": true,
	"AUTH_KEY_DUPLICATED":   true,
	"SESSION_REVOKED":       true,
	"USER_DEACTIVATED":      true,
	"USER_DEACTIVATED_BAN":  true,
}

// Classify переводит произвольную ошибку RPC/транспорта gotd/td в один из
// типизированных Err* этого пакета (tgerr.AsFloodWait — основной способ
// распознать FLOOD_WAIT).
func Classify(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ErrTimeout{Raw: err}
	}

	if wait, ok := tgerr.AsFloodWait(err); ok {
		return &ErrFlood{Wait: wait}
	}

	if rpcErr, ok := tgerr.As(err); ok {
		switch {
		case rpcErr.Type == "PEER_FLOOD":
			return &ErrPeerFlood{}
		case privacyRPCTypes[rpcErr.Type]:
			return &ErrPrivacy{Raw: err}
		case authRPCTypes[rpcErr.Type]:
			return &ErrAuth{Raw: err}
		}
	}

	if isNetworkError(err) {
		return &ErrNetwork{Raw: err}
	}

	return err
}
