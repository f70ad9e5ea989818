package types

import (
	"fmt"
	"time"
)

// LocalityID identifies one process participating in the runtime. It is
// assigned by configuration and stable for the lifetime of the cluster.
type LocalityID uint32

// RootLocality is the well-known ID of the bootstrap root.
const RootLocality LocalityID = 0

// ComponentType tags what kind of entity a global address names. It is used
// for dispatch, never for address equality.
type ComponentType uint32

const (
	ComponentInvalid ComponentType = iota
	ComponentRuntime
	ComponentAGAS
	ComponentUser
)

// RouterMode defines the role the AGAS router plays on this locality
type RouterMode string

const (
	// RouterModeBootstrapRoot makes this locality the authoritative address
	// table during cluster formation
	RouterModeBootstrapRoot RouterMode = "bootstrap-root"

	// RouterModeHostedSubordinate makes this locality a caching client of the
	// root's table
	RouterModeHostedSubordinate RouterMode = "hosted-subordinate"
)

// Valid reports whether m is one of the two defined router modes.
func (m RouterMode) Valid() bool {
	switch m {
	case RouterModeBootstrapRoot, RouterModeHostedSubordinate:
		return true
	}
	return false
}

// RuntimeMode defines how this process participates in the cluster
type RuntimeMode string

const (
	RuntimeModeConsole RuntimeMode = "console"
	RuntimeModeWorker  RuntimeMode = "worker"
	RuntimeModeConnect RuntimeMode = "connect"
)

// Valid reports whether m is one of the three defined runtime modes.
func (m RuntimeMode) Valid() bool {
	switch m {
	case RuntimeModeConsole, RuntimeModeWorker, RuntimeModeConnect:
		return true
	}
	return false
}

// ParseRuntimeMode converts a configuration string to a RuntimeMode.
func ParseRuntimeMode(s string) (RuntimeMode, error) {
	m := RuntimeMode(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown runtime mode %q (want console, worker or connect)", s)
	}
	return m, nil
}

// Registration is one entry in the root's address table: everything the root
// learned about a locality when it registered.
type Registration struct {
	Locality     LocalityID
	Handle       uint64 // handle of the locality's runtime object, unique within the locality
	Component    ComponentType
	Endpoint     string // parcelport endpoint the locality can be reached at
	RegisteredAt time.Time
}
