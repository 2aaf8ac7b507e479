// Package session implements the unit of work: a tracker of attached
// entities and their pending states, flushed to Bun in one transaction.
package session
