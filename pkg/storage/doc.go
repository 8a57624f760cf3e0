// Package storage defines the workflow store contract shared by the
// engine and executor, and the sentinel errors its implementations
// return. The only implementation, in package memory, keeps everything
// in process memory for the lifetime of the process.
package storage
