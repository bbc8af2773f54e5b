// Package records provides the persistence layer for Record rows and their
// local file references.
//
// # Overview
//
// The package defines a Repository interface and a SQLite implementation
// (SQLiteRepository) over a dbx.DBTX, so the same code runs against *sql.DB
// for foreground reads and against *sql.Tx inside a store unit of work.
//
// The repository reads and writes only the records and record_files tables.
// Tag and case projections of a Record are maintained by the relations
// package and filled in by the store.
//
// Filters are query.Predicate values; the repository appends them to a
// "FROM records r" select.
//
// Typical Usage
//
//	repo := records.NewSQLiteRepository(tx)
//	rec, err := repo.GetByID(ctx, "d1")
//	hs, err := repo.Handles(ctx, query.PendingEdit())
package records
