package domain

// ModuleCache is the authoritative symbol/address table of the fat
// baseline binary. It is built once per fat build and shared read-only by
// every thin build and jump table derived from it; a new fat build
// replaces it wholesale.
type ModuleCache struct {
	// Binary is the baseline executable the cache was scanned from.
	Binary string `json:"binary"`
	// Symbols maps fully-qualified function symbol names to their
	// link-time addresses in the baseline.
	Symbols map[string]uint64 `json:"symbols"`
	// Reference is the link-time address of main, the fixed point a
	// running instance's reported base is compared against.
	Reference uint64 `json:"reference"`
	// Trap is the address calls to removed functions are redirected to
	// so stale code fails loudly. Zero when the baseline has no abort
	// stub.
	Trap uint64 `json:"trap,omitempty"`
}

// NewModuleCache builds a cache from a scanned symbol table, keeping only
// defined function symbols.
func NewModuleCache(binary string, syms []Symbol) *ModuleCache {
	c := &ModuleCache{
		Binary:  binary,
		Symbols: make(map[string]uint64, len(syms)),
	}
	for _, s := range syms {
		if !s.Defined() || !s.Function() {
			continue
		}
		c.Symbols[s.Name] = s.Address
		switch s.Name {
		case "main", "_main":
			c.Reference = s.Address
		case "abort", "_abort":
			c.Trap = s.Address
		}
	}
	return c
}

// Lookup returns the baseline address of a symbol.
func (c *ModuleCache) Lookup(name string) (uint64, bool) {
	addr, ok := c.Symbols[name]
	return addr, ok
}

// Slide is the offset between where an instance actually loaded the
// baseline and where the baseline was linked, derived from the instance's
// reported address of main.
func (c *ModuleCache) Slide(aslrReference uint64) int64 {
	return int64(aslrReference) - int64(c.Reference)
}
