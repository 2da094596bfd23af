// ticket.go — короткоживущие билеты на скачивание защищённых файлов.
// Билет выдаётся после успешной проверки пароля и позволяет скачать
// файл обычным GET-запросом (ссылкой), без повторной передачи пароля.
package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ticketAudience — значение aud в билетах File Drop.
const ticketAudience = "file-drop-download"

// ErrInvalidTicket — билет отсутствует, просрочен, подделан или выдан для другого ID.
var ErrInvalidTicket = errors.New("недействительный билет на скачивание")

// TicketIssuer выпускает и проверяет билеты (JWT HS256).
type TicketIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTicketIssuer создаёт issuer с ключом подписи и временем жизни билета.
func NewTicketIssuer(secret []byte, ttl time.Duration) *TicketIssuer {
	return &TicketIssuer{secret: secret, ttl: ttl, now: time.Now}
}

// Issue выпускает билет для targetID (файл или пакет).
// Билет не переживает сам файл: exp = min(now+ttl, notAfter).
func (ti *TicketIssuer) Issue(targetID string, notAfter time.Time) (string, time.Time, error) {
	now := ti.now()
	exp := now.Add(ti.ttl)
	if notAfter.Before(exp) {
		exp = notAfter
	}

	claims := jwt.RegisteredClaims{
		Subject:   targetID,
		Audience:  jwt.ClaimStrings{ticketAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("ошибка подписи билета: %w", err)
	}
	return token, exp, nil
}

// Verify проверяет билет для targetID. Любая проблема — ErrInvalidTicket.
func (ti *TicketIssuer) Verify(token, targetID string) error {
	if token == "" {
		return ErrInvalidTicket
	}

	_, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{},
		func(*jwt.Token) (any, error) { return ti.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(ticketAudience),
		jwt.WithSubject(targetID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ti.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}
	return nil
}
