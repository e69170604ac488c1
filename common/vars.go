// Package common holds process identity and logger setup shared by every
// binary in this repository.
package common

// Version is set at build time via -ldflags.
var Version = "dev"

// PackageName labels metrics namespaces and log tags.
const PackageName = "gaia_hub"
