// Package apbridge keeps the interface table and connection routes of a
// node that relays greybus traffic between the upstream AP, the bridge's
// own SVC and downstream peers.
//
// Interface IDs 0 (SVC) and 1 (AP) are reserved and installed with Add.
// Discovered peers get the lowest free ID from Alloc, so an ID freed by
// Remove is the next one handed out.
//
// A connection joins two (interface, cport) endpoints. It is stored as a
// pair of routes so Send can forward a message leaving either endpoint to
// the other one.
package apbridge
