package ports

import (
	"context"

	"go.trai.ch/hotswap/internal/core/domain"
)

// SymbolScanner reads symbol tables out of executables, shared objects
// and relocatable object files.
//
//go:generate go run go.uber.org/mock/mockgen -source=symbols.go -destination=mocks/mock_symbols.go -package=mocks
type SymbolScanner interface {
	// Defined returns the defined symbols of the binary at path.
	Defined(ctx context.Context, path string) ([]domain.Symbol, error)
	// Undefined returns the names of symbols the object at path
	// references but does not define.
	Undefined(ctx context.Context, path string) ([]string, error)
}
