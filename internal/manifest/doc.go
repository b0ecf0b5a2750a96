// Package manifest builds and parses the greybus manifest blob an
// interface hands to the host through the control protocol.
package manifest
