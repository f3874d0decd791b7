package domain

import "strings"

// Symbol is one entry of a binary's symbol table.
type Symbol struct {
	Name    string
	Address uint64
	// Kind is the nm-style one-letter type code ("T", "U", "W", ...).
	Kind string
}

// Defined reports whether the symbol has a definition in its module.
func (s Symbol) Defined() bool {
	return s.Kind != "U" && s.Kind != ""
}

// Function reports whether the symbol lives in a text section. Weak
// symbols count: rust emits generic instantiations as weak.
func (s Symbol) Function() bool {
	switch s.Kind {
	case "T", "t", "W", "w":
		return true
	default:
		return false
	}
}

// CrateOf extracts the owning crate from a fully-qualified symbol name.
// Handles plain "crate::path" names as well as legacy-mangled "_ZN..."
// names, where the first path element is length-prefixed. Returns "" when
// no crate can be determined (C symbols, section names, ...).
func CrateOf(name string) string {
	if idx := strings.Index(name, "::"); idx > 0 && !strings.HasPrefix(name, "_ZN") {
		return name[:idx]
	}
	rest, ok := strings.CutPrefix(name, "_ZN")
	if !ok {
		return ""
	}
	n := 0
	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		n = n*10 + int(rest[i]-'0')
		i++
	}
	if n == 0 || i+n > len(rest) {
		return ""
	}
	return rest[i : i+n]
}
