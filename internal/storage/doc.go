// Package storage persists the fire journal: one record per task firing,
// written off the poll goroutine and pruned to a bounded size.
package storage
