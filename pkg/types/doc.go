// Package types holds the shared identifiers and enums of the Meridian
// runtime: locality IDs, component type tags, the router and runtime mode
// variants fixed at process construction, and the registration record kept by
// the root's address table.
package types
