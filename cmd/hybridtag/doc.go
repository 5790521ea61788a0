// Package main (cmd/hybridtag) runs the dual-protocol tracking tag.
//
// On boot the tag loads its identity from the configured storage backends.
// An unprovisioned tag advertises the provisioning service as "HYBRID-TAG" and
// waits for a peer to write the auth code and new keys. A provisioned tag
// alternates between the Apple offline-finding frame and the Google FMDN frame
// on every rotation interval, deriving the link address from the key of the
// protocol on air.
//
// Keys written during provisioning are stored immediately but only advertised
// after the restart that follows the commit. With --systemd-unit the restart
// is requested over D-Bus; otherwise the process exits with status 75 and the
// supervisor is expected to start it again.
//
// Configuration comes from flags, HYBRIDTAG_* environment variables and an
// optional --config file, in that order of precedence.
//
// Example usage on a bench with the simulated radio:
//
//	hybridtag run --radio sim --storage sqlite:///tmp/tag.db --listen-addr 127.0.0.1:8080
//	curl -X POST localhost:8080/api/sim/connect
//	curl -X POST localhost:8080/api/sim/write/auth -d '{"conn":1,"text":"abcdefgh"}'
//
// Printing the frames for a given key pair:
//
//	hybridtag frame --apple-key <base64> --google-key <hex> --google-format fe2c
package main
