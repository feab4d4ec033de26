// Package contacts implements search and mutation of the contact directory.
//
// Two persisted copies of every contact exist: the record store
// (Postgres, the system of record) and the search index (OpenSearch, a
// denormalized mirror optimized for filtering and sorted paging). Reads are
// served from the index. Every write goes through the mutation coordinator
// in this package, which changes the record store first and the index
// second, and reports the terminal state of each mutation:
//
//	STARTED → STORE_COMMITTED → INDEX_ATTEMPTED → SUCCESS
//	                                           → PARTIAL_INDEX_NOT_FOUND
//	                                           → PARTIAL_INDEX_ERROR
//	STARTED → FAILED
//
// Deletes keep the store transaction open until the index has answered and
// roll it back if the index failed for any reason other than not-found.
// Creates and updates commit immediately; an index failure is reported and
// repaired later by reindex or de-duplication.
//
// The service depends only on the interfaces in repository.go. It never
// imports net/http or database/sql directly.
package contacts
