package flashsim

import "periph.io/x/conn/v3/gpio"

// CS is the chip-select line of a Chip. Driving it low starts a transaction,
// driving it high completes it.
type CS struct {
	c *Chip
}

// CS returns the chip-select line of c.
func (c *Chip) CS() *CS { return &CS{c: c} }

// Out implements spiprog.ChipSelect (active low).
func (p *CS) Out(l gpio.Level) error {
	if l == gpio.Low {
		p.c.selectChip()
	} else {
		p.c.deselectChip()
	}
	return nil
}

// Load copies data into the array at addr, bypassing the command set.
func (c *Chip) Load(addr int, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	copy(c.mem[addr:], data)
}

// Memory returns a copy of the array contents.
func (c *Chip) Memory() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.mem...)
}

// Transactions returns the transactions seen so far. Recording must be
// enabled with WithRecording.
func (c *Chip) Transactions() []Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Transaction(nil), c.log...)
}

// StatusReads returns the number of completed Read Status Register
// transactions.
func (c *Chip) StatusReads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusReads
}

// Violations lists chip-select framing errors observed on the bus.
func (c *Chip) Violations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.violations...)
}

// Selected reports whether chip select is currently asserted.
func (c *Chip) Selected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// Reset clears the transaction log and counters.
func (c *Chip) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = nil
	c.statusReads = 0
	c.violations = nil
}
