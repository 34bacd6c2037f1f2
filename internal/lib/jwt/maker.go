// Package jwt реализует выпуск и проверку сессионных JWT токенов.
//
// Токен подписывается HS256 и содержит идентификатор учётной записи (sub),
// время выпуска, срок действия и версию токенов учётной записи (ver).
package jwt

import (
	"time"
)

// Maker описывает выпуск и разбор сессионных токенов.
type Maker interface {
	// GenerateToken выпускает токен для учётной записи с текущей версией токенов.
	GenerateToken(accountID string, tokenVersion int) (string, error)
	// ParseToken проверяет подпись и срок действия и возвращает claims.
	ParseToken(tokenStr string) (*CustomClaims, error)
}

// MakerImpl реализует Maker с использованием секретного ключа
// и времени жизни токена (TTL).
type MakerImpl struct {
	secretKey string
	tokenTTL  time.Duration
	now       func() time.Time
}

// NewJWTMaker создаёт новый экземпляр MakerImpl на основе секретного ключа и TTL.
func NewJWTMaker(secretKey string, ttl time.Duration) *MakerImpl {
	return &MakerImpl{
		secretKey: secretKey,
		tokenTTL:  ttl,
		now:       time.Now,
	}
}
