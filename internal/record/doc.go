// Package record owns the pipeline index: the single durable document that
// describes one session's progress. Every mutation goes through Store, which
// re-reads the current document, applies the change, enforces the status
// lattice, and replaces the file with an atomic rename so readers only ever
// observe a complete record.
package record
