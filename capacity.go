package spiprog

// Capacity returns the size in bytes encoded by a JEDEC capacity code, or 0
// for codes not in the table.
//
//	0x11..0x19 | 2^code bytes (128KB .. 32MB)
//	0x40..0x90 | 1MB << (code>>4 - 4), step 0x10 (1MB .. 32MB)
func Capacity(code byte) uint32 {
	switch {
	case code >= 0x11 && code <= 0x19:
		return 1 << code
	case code >= 0x40 && code <= 0x90 && code&0x0F == 0:
		return 1 << 20 << (code>>4 - 4)
	}
	return 0
}

// CapacityRule selects an alternative JEDEC byte to look up when the capacity
// code (third byte) is not in the table and the manufacturer matches.
type CapacityRule struct {
	Manufacturer byte
	Index        int // index into the 3-byte JEDEC ID
}

// DefaultCapacityRules lists the vendor quirks applied by ResolveCapacity.
var DefaultCapacityRules = []CapacityRule{
	// Some Winbond lines place the density code in the memory-type byte.
	{Manufacturer: ManufacturerWinbond, Index: 1},
}

// ResolveCapacity looks up id[2] first and then walks rules in order. The first
// matching rule with a non-zero lookup wins; otherwise the capacity is 0.
func ResolveCapacity(id [3]byte, rules []CapacityRule) uint32 {
	if c := Capacity(id[2]); c != 0 {
		return c
	}
	for _, r := range rules {
		if r.Manufacturer != id[0] || r.Index < 0 || r.Index >= len(id) {
			continue
		}
		if c := Capacity(id[r.Index]); c != 0 {
			return c
		}
	}
	return 0
}
