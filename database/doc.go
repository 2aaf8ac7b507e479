// Package database provides connection management, configuration loading
// and validation, table creation for registered models, logging, query hooks,
// SQL error classification, and health checks built on top of Bun.
package database
