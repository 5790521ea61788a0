// Package main (cmd/provisioner) is the central-side tool for hybrid tags.
//
// The provision command scans for a tag advertising the provisioning service,
// connects, writes the auth code followed by the key chunks for the selected
// layout, and reads back the status characteristic to report whether the tag
// persisted the keys. Connection failures are retried with exponential backoff.
//
// The scan command decodes Apple offline-finding and Google FMDN frames from
// nearby devices. For Apple frames the full advertisement key is rebuilt from
// the link address and the payload.
//
// Example usage:
//
//	provisioner provision --mode dual --apple-key <base64> --google-key <hex>
//	provisioner scan --duration 30s
package main
