// Package sl содержит вспомогательные функции для работы с логгером slog.
package sl

import (
	"log/slog"
	"strings"
)

// Err возвращает slog.Attr с ключом "error" и текстом ошибки.
//
// Пример:
//
//	log.Error("failed to do something", sl.Err(err))
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.String("error", err.Error())
}

// Email возвращает slog.Attr с замаскированным адресом: видна первая буква и домен.
func Email(email string) slog.Attr {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return slog.String("email", "***")
	}
	return slog.String("email", email[:1]+"***"+email[at:])
}
