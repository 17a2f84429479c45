// Package devicefingerprint вычисляет детерминированный "паспорт устройства" для
// MTProto-клиента аккаунта — связку (device model, system version, app
// version, lang code) для telegram.Options.Device, выведенную из
// account-id, а не зашитую статически.
package devicefingerprint

import (
	"crypto/md5" //nolint:gosec // детерминированное распределение по профилям/версиям, не криптография
	"fmt"
	"time"

	"github.com/google/uuid"
)

// profile — один комплект модели устройства и версии ОС, правдоподобный для
// живого MacBook/iPhone клиента Telegram Desktop/iOS в 2025-2026 гг.
type profile struct {
	deviceModel   string
	systemVersion string
	langCode      string
}

var profiles = []profile{
	{"MacBookPro18,1", "macOS 14.6.1", "ru"},
	{"MacBookAir10,1", "macOS 15.1", "ru"},
	{"iPhone15,3", "iOS 17.6.1", "ru"},
	{"iPhone14,5", "iOS 18.0", "en"},
	{"Desktop", "Windows 11", "ru"},
}

// appVersions — цепочка версий официального клиента, от старой к новой;
// appVersionBumpChance задаёт дневную вероятность перехода на одну версию вперёд.
var appVersions = []string{"5.2.1", "5.3.0", "5.4.2", "5.5.0", "5.6.1"}

const appVersionBumpChance = 0.10

// Fingerprint — итоговый паспорт устройства для telegram.DeviceConfig.
type Fingerprint struct {
	DeviceModel   string
	SystemVersion string
	AppVersion    string
	LangCode      string
	SystemLangCode string
}

// For возвращает детерминированный Fingerprint для accountID на день, к которому
// относится now: модель/система/язык фиксированы на всё время жизни аккаунта
// (выбраны один раз из md5(accountID)), версия приложения сдвигается вперёд по
// цепочке appVersions с вероятностью appVersionBumpChance за каждый прошедший
// день с эпохи аккаунта — симулирует то, что часть живых клиентов обновляется.
func For(accountID uuid.UUID, now time.Time) Fingerprint {
	sum := md5.Sum(accountID[:]) //nolint:gosec // распределение, не секрет

	p := profiles[sum[0]%byte(len(profiles))]

	daysSinceEpoch := now.Unix() / 86400
	version := appVersions[pickVersionIndex(sum, daysSinceEpoch)]

	return Fingerprint{
		DeviceModel:    p.deviceModel,
		SystemVersion:  p.systemVersion,
		AppVersion:     version,
		LangCode:       p.langCode,
		SystemLangCode: p.langCode,
	}
}

// pickVersionIndex деривирует индекс в appVersions без хранения состояния между
// вызовами: стартовая версия и фазовый сдвиг (0..9 дней) фиксированы по
// accountID, а сам индекс растёт на единицу примерно раз в 1/appVersionBumpChance
// дней — тот же средний темп, что дал бы независимый "бросок" с вероятностью
// appVersionBumpChance каждый день, но выражен как чистая функция
// (accountID, now) без итерации по истории дней.
func pickVersionIndex(accountSum [md5.Size]byte, daysSinceEpoch int64) int {
	base := int(accountSum[1]) % len(appVersions)
	phase := int64(accountSum[2]) % int64(1/appVersionBumpChance)
	cadence := int64(1 / appVersionBumpChance)

	idx := base + int((daysSinceEpoch+phase)/cadence)
	if idx >= len(appVersions) {
		idx = len(appVersions) - 1
	}
	return idx
}

// String форматирует Fingerprint для диагностических логов.
func (f Fingerprint) String() string {
	return fmt.Sprintf("%s/%s app=%s lang=%s", f.DeviceModel, f.SystemVersion, f.AppVersion, f.LangCode)
}
