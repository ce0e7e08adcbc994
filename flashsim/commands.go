package flashsim

const (
	opPageProgram  = 0x02
	opRead         = 0x03
	opWriteDisable = 0x04
	opReadStatus   = 0x05
	opWriteEnable  = 0x06
	opReadID       = 0x9F
	opEraseChip    = 0xC7
	opEraseChipAlt = 0x60
	opPowerDown    = 0xB9
	opPowerUp      = 0xAB
)

// execute applies the side effects of a completed transaction. It reports
// false if the chip ignored it.
func (c *Chip) execute(tx []byte) bool {
	if len(tx) == 0 {
		return true
	}
	op := tx[0]
	if c.poweredDown && op != opPowerUp {
		return false
	}
	if op == opReadStatus {
		if len(tx) > 1 {
			c.statusReads++
			if c.busyLeft > 0 {
				c.busyLeft--
			}
		}
		return true
	}
	if c.busyLeft != 0 {
		return false
	}

	switch op {
	case opWriteEnable:
		c.wel = true
	case opWriteDisable:
		c.wel = false
	case opPageProgram:
		if !c.wel || len(tx) < 4 {
			return false
		}
		c.program(c.addr(tx), tx[4:])
		c.wel = false
		c.busyLeft = c.busyPolls
	case opEraseChip, opEraseChipAlt:
		if !c.wel || len(tx) != 1 {
			return false
		}
		for i := range c.mem {
			c.mem[i] = 0xFF
		}
		c.wel = false
		c.busyLeft = c.busyPolls
	case opPowerDown:
		c.poweredDown = true
	case opPowerUp:
		c.poweredDown = false
	case opReadID, opRead:
	default:
		return false
	}
	return true
}

// program ANDs data into the page holding addr. Bytes past the end of the
// page wrap to its start, and only the last pageSize bytes are kept.
func (c *Chip) program(addr uint32, data []byte) {
	if len(data) > pageSize {
		data = data[len(data)-pageSize:]
	}
	base := addr &^ (pageSize - 1)
	for i, b := range data {
		off := (addr + uint32(i)) & (pageSize - 1)
		c.mem[(base+off)%uint32(len(c.mem))] &= b
	}
}
