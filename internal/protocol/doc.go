// Package protocol owns the greybus wire contract shared by every layer.
//
// Ownership boundary:
// - operation result codes and the local error -> result translation
// - protocol-level error sentinels
// - operation type and protocol class identifiers
//
// Message envelopes live in the message subpackage.
package protocol
