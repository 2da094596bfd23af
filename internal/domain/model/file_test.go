package model

import (
	"testing"
	"time"
)

// TestFileRecord_IsExpired проверяет границу истечения срока.
func TestFileRecord_IsExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"в будущем", now.Add(time.Second), false},
		{"ровно сейчас", now, true},
		{"в прошлом", now.Add(-time.Hour), true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := &FileRecord{ExpiresAt: tc.expiresAt}
			if got := f.IsExpired(now); got != tc.want {
				t.Errorf("IsExpired() = %v, ожидалось %v", got, tc.want)
			}
			b := &Batch{ExpiresAt: tc.expiresAt}
			if got := b.IsExpired(now); got != tc.want {
				t.Errorf("Batch.IsExpired() = %v, ожидалось %v", got, tc.want)
			}
		})
	}
}

// TestBatch_Helpers проверяет TotalSize, File и IsProtected.
func TestBatch_Helpers(t *testing.T) {
	hash := "$2a$10$hash"
	b := &Batch{
		ID:           "batch",
		PasswordHash: &hash,
		Files: []*FileRecord{
			{ID: "a", Size: 10},
			{ID: "b", Size: 32},
		},
	}

	if b.TotalSize() != 42 {
		t.Errorf("TotalSize() = %d, ожидалось 42", b.TotalSize())
	}
	if f := b.File("b"); f == nil || f.Size != 32 {
		t.Errorf("File(b) = %+v", f)
	}
	if b.File("c") != nil {
		t.Error("File(c) должен вернуть nil")
	}
	if !b.IsProtected() {
		t.Error("IsProtected() = false")
	}
	if (&FileRecord{}).IsProtected() {
		t.Error("файл без хэша не должен быть защищён")
	}
}
