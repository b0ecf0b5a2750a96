// Package protocols indexes the greybus protocol drivers a node can bind
// to its cports. Each driver lives in its own subpackage; builtin wires
// them into a Registry.
package protocols
