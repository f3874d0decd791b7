// Package jumptable derives the address redirection table installed by
// running instances after a thin build.
package jumptable

import (
	"sort"

	"go.trai.ch/hotswap/internal/core/domain"
	"go.trai.ch/zerr"
)

// Options parameterize table creation.
type Options struct {
	// Module is the patch module path (or URL) delivered with the table.
	Module string
	// Crate is the top-level crate name; only symbols it owns are
	// considered removable.
	Crate string
}

// Create diffs the baseline module cache against the patch module's symbol
// table.
//
// A function present in both gets redirected to its patch address. A
// function the top-level crate owned in the baseline but no longer defines
// is redirected to the trap so calls into deleted code fail loudly instead
// of running stale instructions; when the baseline exposes no trap address
// such a removal fails table creation with ErrNoTrapAddress rather than
// leaving the stale function reachable. Symbols of other crates never
// produce trap entries: a patch module only contains the top-level crate,
// so their absence is expected, not a removal.
//
// Entries are ordered by Old ascending, with ties (identical-code folding
// can map several names to one address) broken by baseline symbol name,
// making the table a pure function of its inputs byte for byte.
func Create(cache *domain.ModuleCache, patch []domain.Symbol, opts Options) (*domain.JumpTable, error) {
	if cache == nil {
		return nil, zerr.Wrap(domain.ErrNoModuleCache, "jump table requires a baseline")
	}

	patched := make(map[string]uint64, len(patch))
	for _, sym := range patch {
		if !sym.Defined() || !sym.Function() {
			continue
		}
		patched[sym.Name] = sym.Address
	}

	names := make([]string, 0, len(cache.Symbols))
	for name := range cache.Symbols {
		names = append(names, name)
	}
	sort.Strings(names)

	table := &domain.JumpTable{
		Module:    opts.Module,
		Reference: cache.Reference,
		Trap:      cache.Trap,
	}

	for _, name := range names {
		oldAddr := cache.Symbols[name]
		if newAddr, ok := patched[name]; ok {
			table.Entries = append(table.Entries, domain.JumpTableEntry{Old: oldAddr, New: newAddr})
			continue
		}
		if domain.CrateOf(name) != opts.Crate {
			continue
		}
		if cache.Trap == 0 {
			return nil, zerr.With(zerr.Wrap(domain.ErrNoTrapAddress, "function removed by the patch"), "symbol", name)
		}
		table.Entries = append(table.Entries, domain.JumpTableEntry{Old: oldAddr, New: cache.Trap})
	}

	sort.SliceStable(table.Entries, func(i, j int) bool {
		return table.Entries[i].Old < table.Entries[j].Old
	})

	return table, nil
}
