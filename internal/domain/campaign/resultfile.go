package campaign

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"telegram-fleet/internal/infra/storage"
)

// Outcome — категория результирующего файла кампании.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeOther   Outcome = "other"
)

// ResultWriter пишет append-only, tab-separated строки результата в
// data/targets/<campaign_id>_{success|failure|other}.txt и умеет вычищать
// обработанную цель из исходного файла целей кампании.
type ResultWriter struct {
	baseDir string
}

// NewResultWriter создаёт писатель результатов с корнем data/targets под baseDir.
func NewResultWriter(baseDir string) *ResultWriter {
	return &ResultWriter{baseDir: baseDir}
}

func (w *ResultWriter) path(campaignID uuid.UUID, outcome Outcome) string {
	return filepath.Join(w.baseDir, "targets", fmt.Sprintf("%s_%s.txt", campaignID, outcome))
}

// Append дописывает строку "identifier\t[reason\t]timestamp" в результирующий
// файл нужной категории. reason может быть пустой строкой.
func (w *ResultWriter) Append(campaignID uuid.UUID, outcome Outcome, identifier, reason string, at time.Time) error {
	p := w.path(campaignID, outcome)
	var line string
	if reason != "" {
		line = fmt.Sprintf("%s\t%s\t%s", identifier, reason, at.Format(time.RFC3339))
	} else {
		line = fmt.Sprintf("%s\t%s", identifier, at.Format(time.RFC3339))
	}
	if err := storage.AppendLine(p, line); err != nil {
		return fmt.Errorf("result file for campaign %s: %w", campaignID, err)
	}
	return nil
}

// RemoveFromSource удаляет строки, совпадающие с target (без учёта регистра,
// без ведущего '@'), из настроенного исходного файла кампании. Ничего не
// делает, если sourcePath пуст.
func RemoveFromSource(sourcePath string, target *UserTarget) error {
	if sourcePath == "" {
		return nil
	}
	f, err := os.Open(sourcePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open source file %s: %w", sourcePath, err)
	}

	var kept []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if target.MatchesSourceLine(line) {
			continue
		}
		kept = append(kept, line)
	}
	scanErr := scanner.Err()
	f.Close()
	if scanErr != nil {
		return fmt.Errorf("scan source file %s: %w", sourcePath, scanErr)
	}

	out := strings.Join(kept, "\n")
	if len(kept) > 0 {
		out += "\n"
	}
	return storage.AtomicWriteFile(sourcePath, []byte(out))
}
