// Package protocol defines the byte protocol spoken between the host and the
// programmer, and the framing primitives both sides use to read it.
//
// Every exchange starts with a single ASCII tag byte. Integers are 32-bit
// little-endian. There is no envelope: each command fixes what follows.
//
//	Tag | Host sends after tag              | Programmer sends
//	----+-----------------------------------+-----------------------------------
//	'R' | address, length                   | ACK, length data bytes
//	'W' | address, length, length data bytes| ACK, ACK after the data is written
//	'E' |                                   | ACK once the chip is erased
//	'D' |                                   | 3 JEDEC ID bytes, capacity
//
// A command that fails after its tag has been read is answered with NACK in
// place of the ACK it would otherwise have sent.
package protocol
