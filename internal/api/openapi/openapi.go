// Пакет openapi — встроенный OpenAPI-контракт File Drop.
// Документ проверяется kin-openapi при старте и отдаётся как есть
// на GET /api/openapi.yaml.
package openapi

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var contract []byte

// Raw возвращает исходный YAML-документ.
func Raw() []byte {
	return contract
}

// Load разбирает и валидирует встроенный документ.
func Load(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx

	doc, err := loader.LoadFromData(contract)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора OpenAPI: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("некорректный OpenAPI: %w", err)
	}
	return doc, nil
}

// Handler отдаёт документ клиенту.
func Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(contract)
	}
}
