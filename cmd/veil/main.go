// Command veil is a peer-to-peer messenger over Tor onion services.
//
// Each node is reachable at its own onion address. Tor must already run
// with a hidden service that forwards to the node's listen address.
//
// Usage:
//
//	veil <command> [flags]
//
// Examples:
//
//	# Write a config for our onion address
//	veil init --self 2gzyxa5ihm7nsggfxnu52rck2vv4rvmdlkiu3zzui5du4xyclen53wid
//
//	# Add a contact and chat interactively
//	veil contact add bob4...onion Bob
//	veil chat
//
//	# Send one message and wait for the acknowledgement
//	veil send bob4...onion "see you at noon"
//
//	# Run headless with a protocol capture and metrics
//	veil run --protocol-log capture.cbor --metrics 127.0.0.1:9100
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
