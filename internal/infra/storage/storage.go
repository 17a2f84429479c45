// Package storage — безопасная запись локальных артефактов флота:
// результирующих файлов кампаний и исходных списков целей. Два режима:
// атомарная полная перезапись (AtomicWriteFile) и append-only дозапись
// строки (AppendLine). Частично записанный файл недопустим в обоих.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"telegram-fleet/internal/infra/logger"
)

// filePerm — права итогового файла: только владелец процесса.
const filePerm = 0o600

// EnsureDir гарантирует наличие каталога для указанного файла (0o700).
// Для путей без каталога ("." или пустая строка) ничего не делает.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	return nil
}

// AppendLine дозаписывает line (с завершающим переводом строки, если его
// нет) в конец файла path, создавая файл и каталог при необходимости.
// Одна строка пишется одним системным вызовом: для строк разумной длины
// POSIX гарантирует, что конкурентные O_APPEND-записи не перемешаются.
func AppendLine(path, line string) error {
	if err := EnsureDir(path); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("open append %s: %w", path, err)
	}
	defer f.Close()

	if len(line) == 0 || line[len(line)-1] != '\n' {
		line += "\n"
	}
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("append %s: %w", path, err)
	}
	return nil
}

// AtomicWriteFile атомарно заменяет содержимое файла path на data:
// temp в том же каталоге → write → fsync → chmod → rename → fsync каталога.
// Либо старый файл остаётся цел, либо новый записан полностью. os.Rename
// атомарен только в пределах одного файлового тома; fsync каталога —
// best-effort, часть ОС/ФС его игнорирует.
func AtomicWriteFile(path string, data []byte) error {
	clean := filepath.Clean(path)
	if err := EnsureDir(clean); err != nil {
		return err
	}
	dir := filepath.Dir(clean)

	tmp, err := os.CreateTemp(dir, "atomic-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	err = func() error {
		defer tmp.Close()
		if _, err := tmp.Write(data); err != nil {
			return fmt.Errorf("write temp file: %w", err)
		}
		if err := tmp.Sync(); err != nil {
			return fmt.Errorf("fsync temp file: %w", err)
		}
		if err := tmp.Chmod(filePerm); err != nil {
			return fmt.Errorf("chmod temp file: %w", err)
		}
		return nil
	}()
	if err != nil {
		return err
	}

	if err := os.Rename(tmpName, clean); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	if dirFile, err := os.Open(dir); err == nil {
		if errSync := dirFile.Sync(); errSync != nil {
			logger.Warnf("AtomicWriteFile: dir sync error: %v", errSync)
		}
		_ = dirFile.Close()
	}
	return nil
}
