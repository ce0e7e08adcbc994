package spiprog

import "time"

type flashParams struct {
	name string

	tRES1      time.Duration
	tDP        time.Duration
	tPP        time.Duration
	tEraseChip time.Duration
}

var (
	flashIDMicronN25Q32   = [3]byte{0x20, 0xBA, 0x16}
	flashIDWinbondW25Q128 = [3]byte{0xEF, 0x70, 0x18}
	flashIDWinbondW25Q32  = [3]byte{0xEF, 0x40, 0x16}
	flashIDMacronixMX25L  = [3]byte{0xC2, 0x20, 0x17}
)

var knownFlash = map[[3]byte]flashParams{
	flashIDMicronN25Q32: {
		name: "Micron N25Q 32Mb",

		// [N25Q32|Table 38: AC Characteristics and Operating Conditions]
		// tPP: PAGE PROGRAM cycle time (256 bytes)
		tPP: 5 * time.Millisecond,
		// tBE: Bulk ERASE cycle time
		tEraseChip: 60 * time.Second,
	},

	flashIDWinbondW25Q128: {
		name: "Winbond W25Q 128Mb",

		// [W25Q128|9.6 AC Electrical Characteristics]:
		// tRES1: /CS High to Standby Mode without ID Read
		tRES1: 3 * time.Microsecond,
		// tDP: /CS High to Power-down Mode
		tDP: 3 * time.Microsecond,
		// tPP: Page Program Time
		tPP: 3 * time.Millisecond,
		// tCE: Chip Erase Time
		tEraseChip: 200 * time.Second,
	},

	flashIDWinbondW25Q32: {
		name: "Winbond W25Q 32Mb",

		tRES1:      3 * time.Microsecond,
		tDP:        3 * time.Microsecond,
		tPP:        3 * time.Millisecond,
		tEraseChip: 50 * time.Second,
	},

	flashIDMacronixMX25L: {
		name: "Macronix MX25L 64Mb",

		tRES1:      8800 * time.Nanosecond,
		tDP:        10 * time.Microsecond,
		tPP:        3 * time.Millisecond,
		tEraseChip: 100 * time.Second,
	},
}

func (f *Flash) paramOrMax(get func(*flashParams) time.Duration) time.Duration {
	// get parameter if configured
	if f.pr != nil {
		return get(f.pr)
	}

	// fall back to maximum duration from all known flash parameters
	var tmax time.Duration
	for _, param := range knownFlash {
		tmax = max(tmax, get(&param))
	}
	return tmax
}

func (f *Flash) tRES1() time.Duration {
	return f.paramOrMax(func(p *flashParams) time.Duration { return p.tRES1 })
}
func (f *Flash) tDP() time.Duration {
	return f.paramOrMax(func(p *flashParams) time.Duration { return p.tDP })
}
func (f *Flash) tPP() time.Duration {
	return f.paramOrMax(func(p *flashParams) time.Duration { return p.tPP })
}
func (f *Flash) tEraseChip() time.Duration {
	return f.paramOrMax(func(p *flashParams) time.Duration { return p.tEraseChip })
}

// programTimeout bounds the busy-wait after a page program.
func (f *Flash) programTimeout() time.Duration {
	if f.poll.program >= 0 {
		return f.poll.program
	}
	return 10 * f.tPP()
}

func (f *Flash) eraseTimeout() time.Duration {
	if f.poll.erase >= 0 {
		return f.poll.erase
	}
	return 2 * f.tEraseChip()
}
