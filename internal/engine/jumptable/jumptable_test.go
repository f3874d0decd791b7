package jumptable_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.trai.ch/hotswap/internal/core/domain"
	"go.trai.ch/hotswap/internal/engine/jumptable"
)

func baseline() *domain.ModuleCache {
	return &domain.ModuleCache{
		Binary: "app",
		Symbols: map[string]uint64{
			"main":         0x1000,
			"app::render":  0x2000,
			"app::update":  0x3000,
			"app::helper":  0x4000,
			"serde::parse": 0x5000,
		},
		Reference: 0x1000,
		Trap:      0xf000,
	}
}

func TestCreate_MapsChangedFunctions(t *testing.T) {
	patch := []domain.Symbol{
		{Name: "app::render", Address: 0x20, Kind: "T"},
		{Name: "app::update", Address: 0x30, Kind: "t"},
	}

	table, err := jumptable.Create(baseline(), patch, jumptable.Options{
		Module: "/bundle/patch-1.so",
		Crate:  "app",
	})
	require.NoError(t, err)
	require.Equal(t, "/bundle/patch-1.so", table.Module)
	require.Equal(t, uint64(0x1000), table.Reference)
	require.Equal(t, uint64(0xf000), table.Trap)

	byOld := map[uint64]uint64{}
	for _, e := range table.Entries {
		byOld[e.Old] = e.New
	}
	require.Equal(t, uint64(0x20), byOld[0x2000])
	require.Equal(t, uint64(0x30), byOld[0x3000])
}

func TestCreate_TrapsRemovedCrateFunctions(t *testing.T) {
	// app::helper is gone from the patch; serde::parse is missing too but
	// belongs to a dependency, so it must not be trapped.
	patch := []domain.Symbol{
		{Name: "app::render", Address: 0x20, Kind: "T"},
		{Name: "app::update", Address: 0x30, Kind: "T"},
	}

	table, err := jumptable.Create(baseline(), patch, jumptable.Options{Crate: "app"})
	require.NoError(t, err)

	byOld := map[uint64]uint64{}
	for _, e := range table.Entries {
		byOld[e.Old] = e.New
	}
	require.Equal(t, uint64(0xf000), byOld[0x4000], "removed app::helper should hit the trap")
	require.NotContains(t, byOld, uint64(0x5000), "dependency symbols are out of scope")
	require.NotContains(t, byOld, uint64(0x1000), "main has no crate prefix and is not removable")
}

func TestCreate_RemovalWithoutTrapFails(t *testing.T) {
	cache := baseline()
	cache.Trap = 0

	// app::helper and friends are gone from the patch; without a trap
	// address there is nowhere safe to redirect them.
	_, err := jumptable.Create(cache, nil, jumptable.Options{Crate: "app"})
	require.ErrorIs(t, err, domain.ErrNoTrapAddress)
}

func TestCreate_RemovalWithoutTrapSucceedsForOtherCrates(t *testing.T) {
	cache := baseline()
	cache.Trap = 0
	for name := range cache.Symbols {
		if name != "main" && name != "serde::parse" {
			delete(cache.Symbols, name)
		}
	}

	table, err := jumptable.Create(cache, nil, jumptable.Options{Crate: "app"})
	require.NoError(t, err)
	require.Empty(t, table.Entries)
}

func TestCreate_IgnoresNonFunctionAndUndefined(t *testing.T) {
	// Data and undefined symbols do not count as patched, so every
	// top-level crate function looks removed and hits the trap.
	patch := []domain.Symbol{
		{Name: "app::render", Address: 0x20, Kind: "D"},
		{Name: "app::update", Kind: "U"},
	}

	table, err := jumptable.Create(baseline(), patch, jumptable.Options{Crate: "app"})
	require.NoError(t, err)

	byOld := map[uint64]uint64{}
	for _, e := range table.Entries {
		byOld[e.Old] = e.New
	}
	require.Equal(t, uint64(0xf000), byOld[0x2000])
	require.Equal(t, uint64(0xf000), byOld[0x3000])
	require.Equal(t, uint64(0xf000), byOld[0x4000])
}

func TestCreate_Deterministic(t *testing.T) {
	patch := []domain.Symbol{
		{Name: "app::update", Address: 0x30, Kind: "T"},
		{Name: "app::render", Address: 0x20, Kind: "T"},
	}

	first, err := jumptable.Create(baseline(), patch, jumptable.Options{Crate: "app"})
	require.NoError(t, err)
	second, err := jumptable.Create(baseline(), patch, jumptable.Options{Crate: "app"})
	require.NoError(t, err)

	require.Equal(t, first, second)
	for i := 1; i < len(first.Entries); i++ {
		require.Less(t, first.Entries[i-1].Old, first.Entries[i].Old)
	}
}

func TestCreate_DeterministicWithFoldedAddresses(t *testing.T) {
	// Identical-code folding gives two baseline names the same address;
	// their entries must still serialize in one fixed order.
	cache := &domain.ModuleCache{
		Binary: "app",
		Symbols: map[string]uint64{
			"app::a": 0x2000,
			"app::b": 0x2000,
		},
		Reference: 0x1000,
	}
	patch := []domain.Symbol{
		{Name: "app::a", Address: 0x20, Kind: "T"},
		{Name: "app::b", Address: 0x30, Kind: "T"},
	}

	first, err := jumptable.Create(cache, patch, jumptable.Options{Crate: "app"})
	require.NoError(t, err)
	want, err := json.Marshal(first)
	require.NoError(t, err)
	require.Equal(t, []domain.JumpTableEntry{{Old: 0x2000, New: 0x20}, {Old: 0x2000, New: 0x30}}, first.Entries)

	for i := 0; i < 32; i++ {
		table, err := jumptable.Create(cache, patch, jumptable.Options{Crate: "app"})
		require.NoError(t, err)
		got, err := json.Marshal(table)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestCreate_NilBaseline(t *testing.T) {
	_, err := jumptable.Create(nil, nil, jumptable.Options{})
	require.ErrorIs(t, err, domain.ErrNoModuleCache)
}
