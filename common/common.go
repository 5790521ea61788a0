// Package common holds process-wide helpers shared by the tag and provisioner binaries.
package common

// Version is set at build time with -ldflags "-X github.com/ruteri/hybrid-tag/common.Version=...".
var Version = "dev"

// PackageName is the service name used in logs and metrics.
const PackageName = "hybrid-tag"
