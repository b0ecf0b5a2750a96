// Package service assembles a greybus node process from a NodeConfig:
// drivers from the protocol registry, the manifest, the link to the host
// and, in bridge mode, the AP bridge with its SVC.
package service
