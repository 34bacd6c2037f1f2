package notify

import (
	"fmt"

	"github.com/magabrotheeeer/writingstreak/internal/models"
)

// PasswordReset собирает письмо со ссылкой для сброса пароля.
func PasswordReset(to, link string) models.Message {
	return models.Message{
		To:      to,
		Subject: "Reset your Writing Streak password",
		Body: fmt.Sprintf(`<p>Somebody (hopefully you) asked to reset the password for your Writing Streak account.</p>
<p><a href="%s">Click here to choose a new password</a>. The link is valid for one hour.</p>
<p>If it was not you, just ignore this email.</p>`, link),
		HTML: true,
	}
}

// NewUser уведомляет администратора о регистрации.
func NewUser(admin, email, source string) models.Message {
	if source == "" {
		source = "unknown"
	}
	return models.Message{
		To:      admin,
		Subject: "New Writing Streak user",
		Body:    fmt.Sprintf("New user signed up: %s\nSource: %s", email, source),
	}
}

// Upgraded уведомляет администратора о переходе на платный план.
func Upgraded(admin, email string) models.Message {
	return models.Message{
		To:      admin,
		Subject: "Writing Streak upgrade",
		Body:    fmt.Sprintf("%s upgraded to premium.", email),
	}
}

// Cancelled уведомляет администратора об отмене подписки.
func Cancelled(admin, email string) models.Message {
	return models.Message{
		To:      admin,
		Subject: "Writing Streak cancellation",
		Body:    fmt.Sprintf("%s cancelled their subscription.", email),
	}
}

// PaymentFailed уведомляет администратора о неуспешном платеже, прикладывая событие целиком.
func PaymentFailed(admin, eventJSON string) models.Message {
	return models.Message{
		To:      admin,
		Subject: "Writing Streak payment failed",
		Body:    "A payment failed:\n\n" + eventJSON,
	}
}
