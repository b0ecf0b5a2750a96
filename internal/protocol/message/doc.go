// Package message implements the greybus operation envelope: an 8-byte
// little-endian header followed by the payload.
//
// Every message is owned by exactly one component at a time. Whoever holds
// a message last calls Release, which returns its slot to the Allocator it
// came from. Copy is the only way to obtain a second owner.
package message
