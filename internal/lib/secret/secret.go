// Package secret генерирует случайные непрозрачные токены.
package secret

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// ResetTokenBytes задаёт длину токена сброса пароля в байтах до кодирования.
const ResetTokenBytes = 20

// RandomHex возвращает n криптографически случайных байт в hex‑кодировке.
func RandomHex(n int) (string, error) {
	const op = "secret.RandomHex"
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return hex.EncodeToString(buf), nil
}
