// redact маскирует чувствительные данные перед записью в лог:
// e-mail, токены и идентификаторы refresh-записей.
package redact

import "strings"

// Email маскирует e-mail, сохраняя домен:
//
//	"foobar@example.com" -> "fo***@example.com"
//	"ab@ex.com"          -> "***@ex.com"
//	"no-at"              -> "***"
func Email(s string) string {
	if strings.Count(s, "@") != 1 {
		return "***"
	}

	i := strings.IndexByte(s, '@')
	local, domain := s[:i], s[i+1:]

	lr := []rune(local)
	if len(lr) > 2 {
		local = string(lr[:2]) + "***"
	} else {
		local = "***"
	}

	return local + "@" + domain
}

// TokenID оставляет первые 8 символов идентификатора refresh-записи.
// Этого хватает для корреляции в логах, но не для повторного использования.
func TokenID(id string) string {
	const keep = 8

	r := []rune(id)
	if len(r) <= keep {
		return "***"
	}

	return string(r[:keep]) + "***"
}

// Token возвращает литерал-заглушку для токена в логах.
func Token() string { return "[REDACTED_TOKEN]" }
