// Package log captures protocol events of veil links for offline analysis.
//
// Capture is separate from operational logging, which uses log/slog. A
// Logger receives one Event per frame, decoded packet, control frame,
// verification or delivery state change, and error. Ciphertext never
// reaches a capture; only its length does.
//
// Links take a Logger in their config (DialerConfig.Capture,
// ListenerConfig.Capture). Typical loggers:
//
//	file, _ := log.NewFileLogger("capture.cbor", log.WithMaxSize(64<<20))
//	capture := log.NewMultiLogger(file, log.NewSlogAdapter(logger))
//
// A capture file is a stream of CBOR events. Reader walks it with an
// optional Filter; the veil-log command views, filters, exports and
// summarizes captures.
package log
