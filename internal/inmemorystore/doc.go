// Package inmemorystore provides a thread-safe, in-memory implementation
// of the store.Backend interface. It is suitable for development, testing,
// and the one-shot command-line mode, where nothing needs to outlive the
// process.
package inmemorystore
