// Package greybus is the on-device routing core: a fixed table of cports,
// each bound to a protocol driver, fed by a transport backend.
//
// Ownership boundary:
// - cport registry and its listen/connect state
// - inbound dispatch (RxHandler) and outbound Send
// - response construction helpers used by drivers
//
// Table mutations take the node lock; dispatch reads the entry under the
// lock and calls the driver outside it, so drivers may call back into the
// node (typically to send their response).
package greybus
