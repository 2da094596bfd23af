package filename

import (
	"strings"
	"testing"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// TestDecode проверяет восстановление кодировки имени файла.
func TestDecode(t *testing.T) {
	cp1251, err := charmap.Windows1251.NewEncoder().String("отчёт.pdf")
	if err != nil {
		t.Fatal(err)
	}
	mojibake, err := charmap.ISO8859_1.NewDecoder().String("отчёт.pdf")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		raw     string
		charset string
		want    string
	}{
		{"пустое", "", "", ""},
		{"ascii", "report.pdf", "", "report.pdf"},
		{"корректный utf-8", "отчёт.pdf", "", "отчёт.pdf"},
		{"latin-1 не трогается", "café.txt", "", "café.txt"},
		{"mojibake", mojibake, "", "отчёт.pdf"},
		{"объявленная кодировка", cp1251, "windows-1251", "отчёт.pdf"},
		{"невалидный utf-8 без charset", "caf\xe9.txt", "", "café.txt"},
		{"неизвестная кодировка", "report.pdf", "x-unknown", "report.pdf"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Decode(tc.raw, tc.charset); got != tc.want {
				t.Errorf("Decode(%q, %q) = %q, ожидалось %q", tc.raw, tc.charset, got, tc.want)
			}
		})
	}
}

// TestSanitize проверяет очистку имени для хранения.
func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"обычное", "report-2026_v1.pdf", "report-2026_v1.pdf"},
		{"кириллица", "отчёт за март.docx", "отчёт за март.docx"},
		{"спецсимволы", `a<b>:c"d|e?.txt`, "a_b__c_d_e_.txt"},
		{"скрытый файл", ".hidden.txt", "hidden.txt"},
		{"только точки", "...", fallbackName},
		{"пустое", "", fallbackName},
		{"управляющие символы", "a\x00b\nc.txt", "a_b_c.txt"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Sanitize(tc.in); got != tc.want {
				t.Errorf("Sanitize(%q) = %q, ожидалось %q", tc.in, got, tc.want)
			}
		})
	}
}

// TestSanitize_PathTraversal проверяет, что разделители пути не проходят.
func TestSanitize_PathTraversal(t *testing.T) {
	for _, in := range []string{"../../etc/passwd", `..\..\boot.ini`, "/abs/path.txt"} {
		got := Sanitize(in)
		if strings.ContainsAny(got, `/\`) {
			t.Errorf("Sanitize(%q) = %q содержит разделитель пути", in, got)
		}
		if strings.HasPrefix(got, ".") {
			t.Errorf("Sanitize(%q) = %q начинается с точки", in, got)
		}
	}
}

// TestSanitize_Truncate проверяет обрезку по границе символа с сохранением расширения.
func TestSanitize_Truncate(t *testing.T) {
	long := strings.Repeat("я", 200) + ".pdf" // 404 байта
	got := Sanitize(long)

	if len(got) > MaxBytes {
		t.Errorf("длина %d > %d", len(got), MaxBytes)
	}
	if !utf8.ValidString(got) {
		t.Error("обрезка разрезала многобайтовый символ")
	}
	if !strings.HasSuffix(got, ".pdf") {
		t.Errorf("расширение потеряно: %q", got)
	}
}

// TestExtension проверяет извлечение расширения.
func TestExtension(t *testing.T) {
	tests := map[string]string{
		"a.PDF":          ".pdf",
		"archive.tar.gz": ".gz",
		"noext":          "",
		"file.":          ".",
	}
	for in, want := range tests {
		if got := Extension(in); got != want {
			t.Errorf("Extension(%q) = %q, ожидалось %q", in, got, want)
		}
	}
}

// TestContentDisposition проверяет заголовок для ASCII и не-ASCII имён.
func TestContentDisposition(t *testing.T) {
	t.Run("ascii", func(t *testing.T) {
		got := ContentDisposition("report.pdf")
		if got != `attachment; filename="report.pdf"` {
			t.Errorf("ContentDisposition = %q", got)
		}
	})

	t.Run("кавычки экранируются", func(t *testing.T) {
		got := ContentDisposition(`a"b.txt`)
		if got != `attachment; filename="a\"b.txt"` {
			t.Errorf("ContentDisposition = %q", got)
		}
	})

	t.Run("кириллица", func(t *testing.T) {
		got := ContentDisposition("привет.pdf")
		if !strings.Contains(got, `filename*=UTF-8''%D0%BF%D1%80%D0%B8%D0%B2%D0%B5%D1%82.pdf`) {
			t.Errorf("нет корректного filename*: %q", got)
		}
		if !strings.Contains(got, `filename="privet.pdf"`) {
			t.Errorf("нет ASCII fallback: %q", got)
		}
		if !isPrintableASCII(got) {
			t.Errorf("заголовок содержит не-ASCII байты: %q", got)
		}
	})

	t.Run("пробел кодируется", func(t *testing.T) {
		got := ContentDisposition("мой файл.txt")
		if !strings.Contains(got, "%20") {
			t.Errorf("пробел должен кодироваться как %%20: %q", got)
		}
	})
}

// TestASCIIFallback_Empty проверяет запасное имя без транслитерации.
func TestASCIIFallback_Empty(t *testing.T) {
	if got := ASCIIFallback("☃☃.txt"); !isPrintableASCII(got) || !strings.HasSuffix(got, ".txt") {
		t.Errorf("ASCIIFallback = %q", got)
	}
}
