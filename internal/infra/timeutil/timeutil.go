// Пакет timeutil — разбор таймзон для конфигурации флота. Принимает и
// IANA-имена, и UTC-смещения: операторы исторически задают APP_TIMEZONE в
// обоих видах.
package timeutil

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseLocation разбирает либо IANA-таймзону (например, "Europe/Moscow"),
// либо UTC-смещение (например, "+03:00", "-0700", "UTC+3", "GMT-04:30").
func ParseLocation(value string) (*time.Location, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, errors.New("empty timezone")
	}
	if loc, err := time.LoadLocation(v); err == nil {
		return loc, nil
	}
	if loc, ok := ParseUTCOffsetToLocation(v); ok {
		return loc, nil
	}
	return nil, fmt.Errorf("invalid timezone %q: not an IANA name or UTC offset", value)
}

// ParseUTCOffsetToLocation парсит строки вида "+03:00", "-0700", "UTC+3",
// "GMT-04:30" или "Z" в фиксированную таймзону.
func ParseUTCOffsetToLocation(value string) (*time.Location, bool) {
	v := strings.TrimSpace(strings.ToUpper(value))
	if v == "Z" || v == "UTC" || v == "GMT" {
		return time.FixedZone("UTC+00:00", 0), true
	}
	v = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(v, "UTC"), "GMT"))
	if v == "" {
		return nil, false
	}

	sign := 1
	switch v[0] {
	case '+':
	case '-':
		sign = -1
	default:
		return nil, false
	}
	v = strings.TrimSpace(v[1:])

	// Допустимые остатки: "H", "HH", "HHMM", "HH:MM".
	hourPart, minPart := v, ""
	if idx := strings.IndexByte(v, ':'); idx >= 0 {
		hourPart, minPart = v[:idx], v[idx+1:]
	} else if len(v) == 4 {
		hourPart, minPart = v[:2], v[2:]
	}
	if hourPart == "" || len(hourPart) > 2 {
		return nil, false
	}
	for _, r := range hourPart + minPart {
		if r < '0' || r > '9' {
			return nil, false
		}
	}

	hours, err := strconv.Atoi(hourPart)
	if err != nil {
		return nil, false
	}
	mins := 0
	if minPart != "" {
		if len(minPart) != 2 {
			return nil, false
		}
		if mins, err = strconv.Atoi(minPart); err != nil {
			return nil, false
		}
	}
	if hours < 0 || hours > 14 || mins < 0 || mins > 59 {
		return nil, false
	}

	offset := sign * (hours*3600 + mins*60)
	name := fmt.Sprintf("UTC%+03d:%02d", sign*hours, mins)
	return time.FixedZone(name, offset), true
}
