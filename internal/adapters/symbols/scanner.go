// Package symbols reads symbol tables from linked artifacts using nm.
package symbols

import (
	"bufio"
	"context"
	"strconv"
	"strings"

	"go.trai.ch/hotswap/internal/core/domain"
	"go.trai.ch/hotswap/internal/core/ports"
	"go.trai.ch/zerr"
)

// Scanner implements ports.SymbolScanner by shelling out to nm.
type Scanner struct {
	executor ports.Executor
	tool     string
}

// NewScanner creates a Scanner running the platform nm.
func NewScanner(executor ports.Executor) *Scanner {
	return &Scanner{
		executor: executor,
		tool:     "nm",
	}
}

// Defined returns the defined symbols of the artifact at path.
func (s *Scanner) Defined(ctx context.Context, path string) ([]domain.Symbol, error) {
	all, err := s.scan(ctx, path)
	if err != nil {
		return nil, err
	}
	defined := make([]domain.Symbol, 0, len(all))
	for _, sym := range all {
		if sym.Defined() {
			defined = append(defined, sym)
		}
	}
	return defined, nil
}

// Undefined returns the names of unresolved symbols of the artifact at path.
func (s *Scanner) Undefined(ctx context.Context, path string) ([]string, error) {
	all, err := s.scan(ctx, path)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, sym := range all {
		if sym.Kind == "U" {
			names = append(names, sym.Name)
		}
	}
	return names, nil
}

func (s *Scanner) scan(ctx context.Context, path string) ([]domain.Symbol, error) {
	result, err := s.executor.Run(ctx, domain.Invocation{
		Program:    s.tool,
		Args:       []string{path},
		InheritEnv: true,
	})
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "nm failed"), "artifact", path)
	}
	return parseOutput(string(result.Stdout)), nil
}

// parseOutput parses nm's default output.
//
// Lines come in two shapes:
//
//	U symbol_name
//	0000000000001f40 T symbol_name
func parseOutput(output string) []domain.Symbol {
	var symbols []domain.Symbol
	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}

		var sym domain.Symbol
		if len(parts) == 2 {
			sym.Kind = parts[0]
			sym.Name = parts[1]
		} else {
			addr, err := strconv.ParseUint(parts[0], 16, 64)
			if err != nil {
				continue
			}
			sym.Address = addr
			sym.Kind = parts[1]
			sym.Name = parts[2]
		}
		symbols = append(symbols, sym)
	}

	return symbols
}
