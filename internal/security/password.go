// Пакет security — пароли для защищённых загрузок и билеты на скачивание.
package security

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// Алфавит паролей: без визуально похожих символов (0/O, 1/l/I).
const passwordAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"

// Границы длины генерируемого пароля (включительно).
const (
	MinPasswordLength = 12
	MaxPasswordLength = 16
)

// ErrPasswordMismatch — пароль не соответствует хэшу.
var ErrPasswordMismatch = errors.New("неверный пароль")

// GeneratePassword генерирует случайный пароль длиной 12-16 символов
// из криптографически стойкого источника.
func GeneratePassword() (string, error) {
	extra, err := randInt(MaxPasswordLength - MinPasswordLength + 1)
	if err != nil {
		return "", err
	}

	buf := make([]byte, MinPasswordLength+extra)
	for i := range buf {
		idx, err := randInt(len(passwordAlphabet))
		if err != nil {
			return "", err
		}
		buf[i] = passwordAlphabet[idx]
	}
	return string(buf), nil
}

func randInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("ошибка генерации случайного числа: %w", err)
	}
	return int(v.Int64()), nil
}

// Hasher — односторонний хэш паролей.
type Hasher interface {
	// Hash возвращает хэш пароля.
	Hash(password string) (string, error)
	// Compare возвращает nil при совпадении, ErrPasswordMismatch при несовпадении
	// и иную ошибку, если хэш повреждён.
	Compare(hash, password string) error
}

// BcryptHasher — Hasher на основе bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher создаёт hasher с заданной стоимостью.
func NewBcryptHasher(cost int) *BcryptHasher {
	return &BcryptHasher{cost: cost}
}

// Hash возвращает bcrypt-хэш пароля.
func (h *BcryptHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("ошибка хэширования пароля: %w", err)
	}
	return string(hash), nil
}

// Compare сравнивает пароль с bcrypt-хэшем.
func (h *BcryptHasher) Compare(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	return fmt.Errorf("ошибка проверки пароля: %w", err)
}
