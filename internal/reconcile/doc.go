// Package reconcile implements the duplicate-entity reconciliation engine:
// grouping duplicate submitted reports, collapsing each group into one
// canonical report, and consolidating duplicate teams on request.
//
// Every merge function takes an explicit domain.Transaction. Callers acquire
// it through domain.PersistentStore.RunInTransaction, which commits the merge
// atomically or discards it entirely.
package reconcile
