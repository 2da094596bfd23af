// part.go — состояние отдельных файлов внутри одного запроса загрузки.
//
// Каждая часть проходит Created → Writing → Finalized | Aborted.
// Части хранятся в partSet по сгенерированному ID, поэтому события
// разных частей не зависят друг от друга и от порядка поступления.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bigkaa/goartstore/file-drop/internal/storage"
)

type partState int

const (
	partCreated partState = iota
	partWriting
	partFinalized
	partAborted
)

func (s partState) String() string {
	switch s {
	case partCreated:
		return "created"
	case partWriting:
		return "writing"
	case partFinalized:
		return "finalized"
	case partAborted:
		return "aborted"
	default:
		return fmt.Sprintf("partState(%d)", int(s))
	}
}

var (
	// errFileTooLarge — часть превысила лимит размера; чанк не записан.
	errFileTooLarge = errors.New("превышен максимальный размер файла")
	// errPartState — операция недопустима в текущем состоянии части.
	errPartState = errors.New("недопустимое состояние части загрузки")
)

// storageWriteError отличает сбой хранилища от сбоя чтения запроса.
type storageWriteError struct {
	err error
}

func (e *storageWriteError) Error() string { return "ошибка записи в хранилище: " + e.err.Error() }
func (e *storageWriteError) Unwrap() error { return e.err }

// part — один файл в потоке загрузки.
type part struct {
	id       string
	filename string
	path     string
	limit    int64
	size     int64
	state    partState
	writer   storage.Writer
}

// Write принимает очередной чанк. Размер проверяется до записи,
// поэтому в хранилище никогда не попадает больше limit байт.
func (p *part) Write(chunk []byte) (int, error) {
	switch p.state {
	case partCreated:
		p.state = partWriting
	case partWriting:
	default:
		return 0, fmt.Errorf("%w: запись в %s", errPartState, p.state)
	}

	if p.size+int64(len(chunk)) > p.limit {
		return 0, errFileTooLarge
	}
	n, err := p.writer.Write(chunk)
	p.size += int64(n)
	if err != nil {
		return n, &storageWriteError{err: err}
	}
	return n, nil
}

// finalize фиксирует содержимое части в хранилище.
func (p *part) finalize() error {
	if p.state != partCreated && p.state != partWriting {
		return fmt.Errorf("%w: фиксация в %s", errPartState, p.state)
	}
	if err := p.writer.Commit(); err != nil {
		p.state = partAborted
		return &storageWriteError{err: err}
	}
	p.state = partFinalized
	return nil
}

// abort отменяет незавершённую запись или удаляет уже зафиксированное содержимое.
func (p *part) abort(ctx context.Context, store storage.ContentStore) error {
	prev := p.state
	p.state = partAborted

	switch prev {
	case partCreated, partWriting:
		return p.writer.Abort()
	case partFinalized:
		return store.Delete(ctx, p.path)
	}
	return nil
}

// partSet — части одного запроса, ключ — сгенерированный ID файла.
type partSet struct {
	store storage.ContentStore
	parts map[string]*part
	order []string
}

func newPartSet(store storage.ContentStore) *partSet {
	return &partSet{store: store, parts: make(map[string]*part)}
}

// open выводит путь хранения, открывает запись и регистрирует часть.
func (s *partSet) open(ctx context.Context, id, filename string, limit int64) (*part, error) {
	if _, ok := s.parts[id]; ok {
		return nil, fmt.Errorf("%w: повторный ID %s", errPartState, id)
	}

	path, err := s.store.PathFor(id)
	if err != nil {
		return nil, err
	}
	w, err := s.store.OpenWriter(ctx, path)
	if err != nil {
		return nil, err
	}

	p := &part{id: id, filename: filename, path: path, limit: limit, writer: w}
	s.parts[id] = p
	s.order = append(s.order, id)
	return p, nil
}

// finalized возвращает зафиксированные части в порядке поступления.
func (s *partSet) finalized() []*part {
	result := make([]*part, 0, len(s.order))
	for _, id := range s.order {
		if p := s.parts[id]; p.state == partFinalized {
			result = append(result, p)
		}
	}
	return result
}

// abortAll отменяет все части; ошибки не прерывают обход остальных.
func (s *partSet) abortAll(ctx context.Context) []error {
	var errs []error
	for _, id := range s.order {
		if err := s.parts[id].abort(ctx, s.store); err != nil {
			errs = append(errs, fmt.Errorf("часть %s: %w", id, err))
		}
	}
	return errs
}
