package campaign

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// TargetStatus — статус продвижения цели по воронке кампании.
type TargetStatus string

const (
	TargetPending     TargetStatus = "pending"
	TargetAssigned    TargetStatus = "assigned"
	TargetContacted   TargetStatus = "contacted"
	TargetInProgress  TargetStatus = "in_progress"
	TargetConverted   TargetStatus = "converted"
	TargetCompleted   TargetStatus = "completed"
	TargetFailed      TargetStatus = "failed"
	TargetSkipped     TargetStatus = "skipped"
	TargetBlocked     TargetStatus = "blocked"
)

// UserTarget — потенциальный собеседник кампании, идентифицированный хотя бы
// одним из {telegram_id, username, phone}.
type UserTarget struct {
	ID          uuid.UUID
	CampaignID  uuid.UUID
	TelegramID  int64 // 0, если неизвестен
	Username    string
	Phone       string
	Status      TargetStatus
	DialogueID  *uuid.UUID
}

// Identifier возвращает предпочитаемый идентификатор цели для записи в
// результирующие файлы кампании: telegram_id, затем username, затем phone.
func (t *UserTarget) Identifier() string {
	switch {
	case t.TelegramID != 0:
		return strconv.FormatInt(t.TelegramID, 10)
	case t.Username != "":
		return t.Username
	default:
		return t.Phone
	}
}

// MatchesSourceLine сообщает, ссылается ли строка исходного файла на эту цель,
// сравнивая без учёта регистра и отбрасывая ведущий '@'.
func (t *UserTarget) MatchesSourceLine(line string) bool {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "@")
	line = strings.ToLower(line)
	if t.Username != "" && line == strings.ToLower(strings.TrimPrefix(t.Username, "@")) {
		return true
	}
	if t.Phone != "" && line == strings.ToLower(t.Phone) {
		return true
	}
	if t.TelegramID != 0 && line == strconv.FormatInt(t.TelegramID, 10) {
		return true
	}
	return false
}

// Assign переводит цель в assigned и привязывает её к диалогу.
func (t *UserTarget) Assign(dialogueID uuid.UUID) {
	t.Status = TargetAssigned
	t.DialogueID = &dialogueID
}

// Requeue возвращает ранее назначенную цель обратно в pending — единственный
// допустимый откат в модели переходов: все остальные переходы строго
// однонаправленные.
func (t *UserTarget) Requeue() {
	t.Status = TargetPending
	t.DialogueID = nil
}
