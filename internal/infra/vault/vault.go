// Package vault шифрует и нормализует MTProto-сессии аккаунтов перед тем, как
// они попадают в session.FileStorage. Сам сейф не хранит ключевой материал —
// мастер-ключ приходит только из окружения (VAULT_KEY_HEX) и живёт в памяти
// процесса.
//
// NormalizeSession — единственное место, где обобщается файловое хранилище
// сессий учителя (internal/infra/telegram/session.FileStorage): сейф стоит
// перед ним нормализующим и шифрующим слоем, так что воркер всегда передаёт
// FileStorage уже нормализованный, уже расшифрованный блоб.
package vault

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	tdsession "github.com/gotd/td/session"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrKeyNotConfigured сигнализирует, что VAULT_KEY_HEX не задан — сейф
// отказывается открывать или закрывать любые сессии.
var ErrKeyNotConfigured = errors.New("vault: master key is not configured")

// sqliteMagic — первые 16 байт файла SQLite (заголовок формата), по которым
// определяется сессия в формате Telethon/Pyrogram (SQLite), а не нативный
// gotd string-session блоб.
var sqliteMagic = []byte("SQLite format 3\x00")

// Vault шифрует и расшифровывает произвольные байты сессий через
// XChaCha20-Poly1305 (24-байтный nonce, безопасен для случайной генерации на
// больших объёмах без риска коллизии).
type Vault struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
		Overhead() int
	}
}

// New строит сейф над 32-байтным ключом, заданным в hex (ровно 64 символа).
func New(keyHex string) (*Vault, error) {
	if keyHex == "" {
		return nil, ErrKeyNotConfigured
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode vault key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("vault key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Encrypt шифрует plaintext, формируя случайный nonce и приписывая его перед
// шифротекстом. Результат самодостаточен — Decrypt не требует отдельного
// хранения nonce.
func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := v.aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, sealed...), nil
}

// Decrypt отделяет nonce от головы ciphertext и вскрывает данные.
func (v *Vault) Decrypt(ciphertext []byte) ([]byte, error) {
	ns := v.aead.NonceSize()
	if len(ciphertext) < ns+v.aead.Overhead() {
		return nil, errors.New("vault: ciphertext too short")
	}
	nonce, sealed := ciphertext[:ns], ciphertext[ns:]
	plain, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("open sealed session: %w", err)
	}
	return plain, nil
}

// sqliteSessionRow — срез well-known однострочной схемы "sessions" из
// Telethon/Pyrogram-style SQLite файлов: dc_id, server_address, port, auth_key.
// Достаточно для переупаковки в gotd session.Data.
type sqliteSessionRow struct {
	DCID          int
	ServerAddress string
	Port          int
	AuthKey       []byte
}

// NormalizeSession приводит произвольный блоб сессии к формату, который
// ожидает gotd-хранилище: если это SQLite-файл Telethon/Pyrogram, из него
// извлекается (dc_id, server_address, port, auth_key) и переупаковывается в
// JSON-представление tdsession.Data (формат, который пишет/читает
// tdsession.Loader). Блобы, уже являющиеся gotd string-session (нет magic),
// возвращаются как есть.
func NormalizeSession(blob []byte) ([]byte, error) {
	if !bytes.HasPrefix(blob, sqliteMagic) {
		return blob, nil
	}
	row, err := extractSQLiteSessionRow(blob)
	if err != nil {
		return nil, fmt.Errorf("extract sqlite session row: %w", err)
	}
	authKeyID := authKeyIDOf(row.AuthKey)
	data := tdsession.Data{
		DC:        row.DCID,
		Addr:      fmt.Sprintf("%s:%d", row.ServerAddress, row.Port),
		AuthKey:   row.AuthKey,
		AuthKeyID: authKeyID,
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode normalized session: %w", err)
	}
	return encoded, nil
}

// authKeyIDOf вычисляет auth_key_id по правилу MTProto — младшие 8 байт
// SHA1(auth_key).
func authKeyIDOf(authKey []byte) []byte {
	sum := sha1.Sum(authKey)
	return sum[12:20]
}

// extractSQLiteSessionRow читает единственную строку таблицы "sessions" из
// SQLite-страницы формата Telethon/Pyrogram v2 (schema: dc_id INTEGER,
// server_address TEXT, port INTEGER, auth_key BLOB, ...). Реализован
// намеренно узко: только однострочная таблица на первой table b-tree leaf
// странице, без индексов и вторичных таблиц — это всё, что встречается в
// экспортированных сессиях аккаунтов.
func extractSQLiteSessionRow(blob []byte) (sqliteSessionRow, error) {
	if len(blob) < 100 {
		return sqliteSessionRow{}, errors.New("sqlite header truncated")
	}
	pageSize := int(binary.BigEndian.Uint16(blob[16:18]))
	if pageSize == 1 {
		pageSize = 65536
	}
	if pageSize < 512 || pageSize > len(blob) {
		return sqliteSessionRow{}, fmt.Errorf("implausible sqlite page size %d", pageSize)
	}

	page := blob[100:pageSize]
	if len(page) < 8 || page[0] != 0x0d { // 0x0d = leaf table b-tree page
		return sqliteSessionRow{}, errors.New("sessions table is not a single leaf page")
	}
	cellCount := int(binary.BigEndian.Uint16(page[3:5]))
	if cellCount == 0 {
		return sqliteSessionRow{}, errors.New("sessions table is empty")
	}
	cellPointerArray := page[8:]
	firstCellOffset := int(binary.BigEndian.Uint16(cellPointerArray[0:2]))
	if firstCellOffset >= len(page) {
		return sqliteSessionRow{}, errors.New("sqlite cell offset out of range")
	}
	cell := page[firstCellOffset:]

	// Формат ячейки leaf table: varint(payload size), varint(rowid), payload.
	_, n1 := readVarint(cell)
	_, n2 := readVarint(cell[n1:])
	payload := cell[n1+n2:]

	return decodeRecordFormat(payload)
}

// decodeRecordFormat разбирает sqlite record format: заголовок с varint
// serial-type на каждую колонку, затем сами значения. Ожидаемый порядок
// колонок в схеме Telethon/Pyrogram v2: dc_id, server_address, port, auth_key,
// takeout_id (игнорируется).
func decodeRecordFormat(payload []byte) (sqliteSessionRow, error) {
	headerSize, n := readVarint(payload)
	if int(headerSize) > len(payload) {
		return sqliteSessionRow{}, errors.New("sqlite record header size out of range")
	}
	header := payload[n:headerSize]
	body := payload[headerSize:]

	var serialTypes []uint64
	for off := 0; off < len(header); {
		st, used := readVarint(header[off:])
		serialTypes = append(serialTypes, st)
		off += used
	}
	if len(serialTypes) < 4 {
		return sqliteSessionRow{}, errors.New("sessions row has fewer columns than expected")
	}

	var row sqliteSessionRow
	bodyOff := 0
	for i, st := range serialTypes {
		val, size := decodeSerialValue(st, body[bodyOff:])
		bodyOff += size
		switch i {
		case 0:
			row.DCID = int(val.i)
		case 1:
			row.ServerAddress = val.s
		case 2:
			row.Port = int(val.i)
		case 3:
			row.AuthKey = val.b
		}
	}
	if row.AuthKey == nil {
		return sqliteSessionRow{}, errors.New("auth_key column missing or NULL")
	}
	return row, nil
}

type serialValue struct {
	i int64
	s string
	b []byte
}

// decodeSerialValue декодирует одно значение sqlite record format по его
// serial-type. Поддержаны целые (1-6,8,9), TEXT (>=13 нечётный) и BLOB
// (>=12 чётный) — всё, что нужно для строки sessions.
func decodeSerialValue(serialType uint64, data []byte) (serialValue, int) {
	switch {
	case serialType == 0:
		return serialValue{}, 0
	case serialType >= 1 && serialType <= 6:
		sizes := map[uint64]int{1: 1, 2: 2, 3: 3, 4: 4, 5: 6, 6: 8}
		size := sizes[serialType]
		var v int64
		for _, b := range data[:size] {
			v = (v << 8) | int64(b)
		}
		return serialValue{i: v}, size
	case serialType == 8:
		return serialValue{i: 0}, 0
	case serialType == 9:
		return serialValue{i: 1}, 0
	case serialType >= 12 && serialType%2 == 0:
		size := int((serialType - 12) / 2)
		return serialValue{b: append([]byte(nil), data[:size]...)}, size
	case serialType >= 13 && serialType%2 == 1:
		size := int((serialType - 13) / 2)
		return serialValue{s: string(data[:size])}, size
	default:
		return serialValue{}, 0
	}
}

// readVarint читает sqlite varint (big-endian, 7 бит на байт, 1-9 байт,
// старший бит — признак продолжения).
func readVarint(b []byte) (uint64, int) {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v = (v << 7) | uint64(b[i]&0x7f)
		if b[i]&0x80 == 0 {
			return v, i + 1
		}
	}
	if len(b) > 8 {
		v = (v << 8) | uint64(b[8])
		return v, 9
	}
	return v, len(b)
}
