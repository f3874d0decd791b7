package domain

// JumpTableEntry redirects one baseline function entry point to its
// replacement in the patch module.
type JumpTableEntry struct {
	Old uint64 `json:"old_address"`
	New uint64 `json:"new_address"`
}

// JumpTable is the old-address to new-address mapping delivered to
// running instances after a thin build. It is created once per patch,
// never mutated afterwards, and ordered by Old ascending so identical
// inputs always serialize to identical bytes.
type JumpTable struct {
	// Module is the patch module path (or URL for wasm) the instance
	// should load the new code from.
	Module string `json:"module"`
	// Reference is the address of main the Old addresses assume. An
	// instance whose own reported reference differs rebases by the
	// difference before installing trampolines.
	Reference uint64 `json:"aslr_reference"`
	// Trap is the redirect target for removed functions.
	Trap uint64 `json:"trap_address,omitempty"`
	// Entries, ordered by Old ascending.
	Entries []JumpTableEntry `json:"entries"`
}

// RebaseFor returns a copy of the table with the Old addresses shifted to
// an instance whose reported reference is ref. The receiver is not
// modified: tables are immutable after creation.
func (t *JumpTable) RebaseFor(ref uint64) *JumpTable {
	if ref == t.Reference || ref == 0 {
		return t
	}
	delta := int64(ref) - int64(t.Reference)
	out := &JumpTable{
		Module:    t.Module,
		Reference: ref,
		Trap:      shift(t.Trap, delta),
		Entries:   make([]JumpTableEntry, len(t.Entries)),
	}
	for i, e := range t.Entries {
		out.Entries[i] = JumpTableEntry{Old: shift(e.Old, delta), New: e.New}
	}
	return out
}

func shift(addr uint64, delta int64) uint64 {
	if addr == 0 {
		return 0
	}
	return uint64(int64(addr) + delta)
}
