// Package interfaces defines core interfaces and types for the hybrid tag,
// separating collaborator contracts from their implementations.
//
// # Identity Types
//
//   - AppleKey, GoogleKey: the fixed-size key material the tag advertises
//   - Identity: both keys plus the provisioned flag
//   - Protocol, GoogleFormat: what is advertised and in which frame layout
//   - LinkAddress: link-layer address, least-significant byte first
//
// # Transport Interfaces
//
// Radio: stop, set address, start advertising. Implementations report failures
// as *RadioError so callers can surface the stack's result code.
//
// GATTServer and ProvisioningHandler: the provisioning service and the
// callbacks the transport invokes for writes and connection events.
//
// # Storage Interfaces
//
// KeyValueStore: named-record persistence across several backend types
// (memory, file, S3, IPFS, Vault, SQL). StorageBackendFactory builds them from
// URIs and composes several into one redundant store.
//
// # Device Interfaces
//
// Indicator and Restarter: status signalling and the controlled restart that
// applies committed keys.
package interfaces
