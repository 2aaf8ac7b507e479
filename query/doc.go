// Package query builds deferred, immutable read specifications (filter,
// pagination window, eager-load paths, ordering) and runs them against Bun.
package query
