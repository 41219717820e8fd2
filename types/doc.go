// Package types contains the shared types and interfaces of the pullsub
// library.
//
// It exists as a leaf package so internal packages can depend on these
// definitions without importing the root pullsub package, avoiding import
// cycles. The root package re-exports the common types via aliases for
// convenience.
package types
