package spiprog

import "fmt"

// [JEP106] first-bank manufacturer codes seen on SPI NOR parts.
const (
	ManufacturerWinbond   = 0xEF
	ManufacturerMacronix  = 0xC2
	ManufacturerMicron    = 0x20
	ManufacturerAdesto    = 0x1F
	ManufacturerMicrochip = 0xBF
	ManufacturerEON       = 0x1C
	ManufacturerISSI      = 0x9D
)

var manufacturers = map[byte]string{
	ManufacturerWinbond:   "Winbond",
	ManufacturerMacronix:  "Macronix",
	ManufacturerMicron:    "Micron",
	ManufacturerAdesto:    "Adesto/Atmel",
	ManufacturerMicrochip: "Microchip",
	ManufacturerEON:       "EON",
	ManufacturerISSI:      "ISSI",
}

// ManufacturerName returns the vendor name for a JEDEC manufacturer byte, or
// "Unknown".
func ManufacturerName(b byte) string {
	if name, ok := manufacturers[b]; ok {
		return name
	}
	return "Unknown"
}

// PartName guesses a part description from the JEDEC ID. Winbond parts are
// named after their device byte (e.g. "W25Q40 (1MB)").
func PartName(id [3]byte, capacity uint32) string {
	if id[0] == ManufacturerWinbond {
		if c := Capacity(id[1]); c != 0 {
			return fmt.Sprintf("W25Q%X (%s)", id[1], FormatSize(c))
		}
		return fmt.Sprintf("Unknown Winbond (%s)", FormatSize(capacity))
	}
	if c := Capacity(id[2]); c != 0 {
		return FormatSize(c) + " Chip"
	}
	return fmt.Sprintf("Unknown (%s)", FormatSize(capacity))
}

// FormatSize renders a byte count as KB or MB.
func FormatSize(n uint32) string {
	switch {
	case n == 0:
		return "0MB"
	case n >= 1<<20 && n%(1<<20) == 0:
		return fmt.Sprintf("%dMB", n>>20)
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(n)/(1<<20))
	case n%(1<<10) == 0:
		return fmt.Sprintf("%dKB", n>>10)
	}
	return fmt.Sprintf("%dB", n)
}
