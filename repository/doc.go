// Package repository provides a generic, session-scoped repository over Bun:
// deferred insert/update/remove/detach tracking, composable queries with
// pagination and eager loading, and a save that reports an outcome value.
package repository
