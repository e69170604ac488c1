package auth

import (
	"github.com/stacks-network/gaia-hub/interfaces"
)

// MaxAuthScopes caps the raw scope entries a single token may carry.
const MaxAuthScopes = 8

// Scope kinds recognized in v1 token payloads.
const (
	ScopePutFile               = "putFile"
	ScopePutFilePrefix         = "putFilePrefix"
	ScopeDeleteFile            = "deleteFile"
	ScopeDeleteFilePrefix      = "deleteFilePrefix"
	ScopePutFileArchival       = "putFileArchival"
	ScopePutFileArchivalPrefix = "putFileArchivalPrefix"
)

var recognizedScopes = map[string]struct{}{
	ScopePutFile:               {},
	ScopePutFilePrefix:         {},
	ScopeDeleteFile:            {},
	ScopeDeleteFilePrefix:      {},
	ScopePutFileArchival:       {},
	ScopePutFileArchivalPrefix: {},
}

// Scope is one raw authorization entry in a v1 token: a recognized scope
// kind plus the path or prefix it applies to.
type Scope struct {
	Scope  string `json:"scope"`
	Domain string `json:"domain"`
}

// ScopeValues is the categorized view of a token's scopes, ready for path
// authorization checks. A nil or all-empty value means the token carries no
// restrictions of that kind.
type ScopeValues struct {
	WritePaths            []string
	WritePrefixes         []string
	DeletePaths           []string
	DeletePrefixes        []string
	WriteArchivalPaths    []string
	WriteArchivalPrefixes []string
}

// HasWriteScopes reports whether any write-restricting scopes are present.
// Without them, a validated token may write anywhere in its bucket.
func (sv *ScopeValues) HasWriteScopes() bool {
	return len(sv.WritePaths) > 0 || len(sv.WritePrefixes) > 0 ||
		len(sv.WriteArchivalPaths) > 0 || len(sv.WriteArchivalPrefixes) > 0
}

// HasDeleteScopes reports whether any delete-restricting scopes are present.
func (sv *ScopeValues) HasDeleteScopes() bool {
	return len(sv.DeletePaths) > 0 || len(sv.DeletePrefixes) > 0 ||
		len(sv.WriteArchivalPaths) > 0 || len(sv.WriteArchivalPrefixes) > 0
}

// validateScopes rejects tokens carrying too many scope entries or any
// unrecognized scope kind.
func validateScopes(scopes []Scope) error {
	if len(scopes) > MaxAuthScopes {
		return interfaces.NewValidationError("too many authorization scopes: %d, maximum %d", len(scopes), MaxAuthScopes)
	}
	for _, s := range scopes {
		if _, ok := recognizedScopes[s.Scope]; !ok {
			return interfaces.NewValidationError("unrecognized scope %q", s.Scope)
		}
	}
	return nil
}

// categorizeScopes sorts raw scope entries into their path/prefix lists.
// Callers must have run validateScopes first.
func categorizeScopes(scopes []Scope) *ScopeValues {
	sv := &ScopeValues{}
	for _, s := range scopes {
		switch s.Scope {
		case ScopePutFile:
			sv.WritePaths = append(sv.WritePaths, s.Domain)
		case ScopePutFilePrefix:
			sv.WritePrefixes = append(sv.WritePrefixes, s.Domain)
		case ScopeDeleteFile:
			sv.DeletePaths = append(sv.DeletePaths, s.Domain)
		case ScopeDeleteFilePrefix:
			sv.DeletePrefixes = append(sv.DeletePrefixes, s.Domain)
		case ScopePutFileArchival:
			sv.WriteArchivalPaths = append(sv.WriteArchivalPaths, s.Domain)
		case ScopePutFileArchivalPrefix:
			sv.WriteArchivalPrefixes = append(sv.WriteArchivalPrefixes, s.Domain)
		}
	}
	return sv
}
