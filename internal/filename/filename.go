// Пакет filename — обработка имён загружаемых файлов:
// восстановление кодировки, очистка для хранения и формирование
// заголовка Content-Disposition (RFC 6266 / RFC 5987).
package filename

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gosimple/unidecode"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/unicode/norm"
)

// MaxBytes — максимальная длина очищенного имени в байтах.
const MaxBytes = 255

// maxExtBytes — расширения длиннее считаются частью имени при обрезке.
const maxExtBytes = 16

// fallbackName — имя, если после очистки ничего не осталось.
const fallbackName = "file"

// Decode восстанавливает имя файла из заголовка multipart-части.
//
// Порядок: объявленная кодировка (charset части) → эвристика
// (UTF-8, прочитанный как Latin-1; байты в Windows-1252) → имя как есть
// с заменой некорректных последовательностей.
func Decode(raw, charset string) string {
	if raw == "" {
		return raw
	}

	if charset != "" {
		if enc, err := htmlindex.Get(charset); err == nil {
			if s, err := enc.NewDecoder().String(raw); err == nil && utf8.ValidString(s) {
				return norm.NFC.String(s)
			}
		}
	}

	if utf8.ValidString(raw) {
		if fixed, ok := repairLatin1(raw); ok {
			return norm.NFC.String(fixed)
		}
		return norm.NFC.String(raw)
	}

	if s, err := charmap.Windows1252.NewDecoder().String(raw); err == nil && utf8.ValidString(s) {
		return norm.NFC.String(s)
	}

	return strings.ToValidUTF8(raw, "_")
}

// repairLatin1 исправляет UTF-8 байты, ошибочно декодированные как Latin-1
// ("Ð¾Ñ\u0082Ñ\u0087Ñ\u0091Ñ\u0082.pdf" → "отчёт.pdf").
// Срабатывает только если обратное кодирование даёт корректный UTF-8
// с хотя бы одним многобайтовым символом.
func repairLatin1(s string) (string, bool) {
	raw, err := charmap.ISO8859_1.NewEncoder().String(s)
	if err != nil {
		return "", false
	}
	if raw == s || !utf8.ValidString(raw) {
		return "", false
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] >= utf8.RuneSelf {
			return raw, true
		}
	}
	return "", false
}

// Sanitize приводит имя к безопасному для хранения виду: буквы и цифры
// любых алфавитов, пробел и . - _ ( ) + сохраняются, остальное
// заменяется на "_". Ведущие точки удаляются, длина ограничивается MaxBytes.
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == utf8.RuneError:
			b.WriteRune('_')
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsMark(r):
			b.WriteRune(r)
		case r == '.', r == '-', r == '_', r == ' ', r == '(', r == ')', r == '+':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	s := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(b.String()), "."))
	if s == "" {
		return fallbackName
	}
	return truncate(s, MaxBytes)
}

// truncate обрезает имя до limit байт по границе символа, сохраняя расширение.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	ext := filepath.Ext(s)
	if len(ext) > maxExtBytes {
		ext = ""
	}
	base := s[:len(s)-len(ext)]
	budget := limit - len(ext)
	for len(base) > budget {
		_, size := utf8.DecodeLastRuneInString(base)
		base = base[:len(base)-size]
	}
	return base + ext
}

// Extension возвращает расширение в нижнем регистре с точкой ("" если нет).
func Extension(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

// ContentDisposition формирует заголовок для скачивания файла.
// ASCII-имена передаются только в filename, остальные дополнительно
// в filename* (UTF-8, percent-encoding) с транслитерированным запасным вариантом.
func ContentDisposition(name string) string {
	if isPrintableASCII(name) {
		return fmt.Sprintf(`attachment; filename="%s"`, quote(name))
	}
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`,
		quote(ASCIIFallback(name)), encodeExtValue(name))
}

// ASCIIFallback транслитерирует имя в печатаемый ASCII ("отчёт.pdf" → "otchiot.pdf").
func ASCIIFallback(name string) string {
	translit := unidecode.Unidecode(name)
	var b strings.Builder
	for i := 0; i < len(translit); i++ {
		c := translit[i]
		if c >= 0x20 && c < 0x7f && c != '"' && c != '\\' {
			b.WriteByte(c)
		} else {
			b.WriteByte('_')
		}
	}
	s := strings.TrimSpace(b.String())
	if s == "" || strings.Trim(s, "_.") == "" {
		return "download" + Extension(name)
	}
	return s
}

func isPrintableASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] >= 0x7f {
			return false
		}
	}
	return true
}

// quote экранирует кавычки и обратную косую черту для quoted-string.
func quote(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// encodeExtValue кодирует строку по RFC 5987: attr-char как есть, прочее — %XX.
func encodeExtValue(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAttrChar(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isAttrChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("!#$&+-.^_`|~", c) >= 0
}
