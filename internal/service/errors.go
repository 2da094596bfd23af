// Пакет service — бизнес-логика File Drop.
// errors.go — ошибки сервисного слоя с HTTP-кодом и машиночитаемым кодом.
package service

import (
	"errors"
	"fmt"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/file-drop/internal/api/errors"
)

// Единое сообщение для отсутствующих, просроченных и недоступных файлов:
// клиент не должен различать эти случаи.
const msgNotFound = "Файл не найден или срок его хранения истёк"

// Error — ошибка операции с HTTP-кодом.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	// Err — исходная причина (только для логов и режима development)
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError извлекает *Error из цепочки; прочие ошибки становятся INTERNAL_ERROR.
func AsError(err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return internalError("Внутренняя ошибка сервера", err)
}

func validationError(message string) *Error {
	return &Error{StatusCode: http.StatusBadRequest, Code: apierrors.CodeValidationError, Message: message}
}

func notFoundError() *Error {
	return &Error{StatusCode: http.StatusNotFound, Code: apierrors.CodeNotFound, Message: msgNotFound}
}

func forbiddenError(message string) *Error {
	return &Error{StatusCode: http.StatusForbidden, Code: apierrors.CodeForbidden, Message: message}
}

func tooLargeError(message string) *Error {
	return &Error{StatusCode: http.StatusRequestEntityTooLarge, Code: apierrors.CodeFileTooLarge, Message: message}
}

func canceledError(err error) *Error {
	return &Error{
		StatusCode: apierrors.StatusClientClosedRequest,
		Code:       apierrors.CodeCanceled,
		Message:    "Запрос отменён клиентом",
		Err:        err,
	}
}

func internalError(message string, err error) *Error {
	return &Error{StatusCode: http.StatusInternalServerError, Code: apierrors.CodeInternalError, Message: message, Err: err}
}
