// Package store owns the durable local copy of records and cases.
//
// # Execution contexts
//
// All mutation runs on the background context: a single worker goroutine
// that executes queued units of work strictly in submission order, each in
// its own SQL transaction. Because upserts look up existing rows by id inside
// the same unit, two concurrent upserts of one document can never both
// insert.
//
// Reads for callers go through the Foreground context, which keeps an LRU
// cache of assembled entities. After every commit the worker appends the
// touched handles to the change log, merges the log entries past the
// foreground cursor (evicting stale cache entries), persists the cursor and
// then publishes a Changes notification to subscribers.
//
// # Failure semantics
//
// A unit whose function or commit fails leaves no trace: the transaction is
// rolled back, the error is logged and returned, and the reported Changes are
// empty. Units are never cancelled once queued; the caller's context is only
// used for values.
//
// # Wipe
//
// Wipe runs as a unit on the worker. While it runs, notifications are
// suppressed; afterwards the cursor is unset and the cache is empty.
package store
