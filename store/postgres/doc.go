// Package postgres provides the PostgreSQL job store backend.
//
// The conditional-write contract is implemented with single-statement
// UPDATEs guarded by the expected status, so the claim is a true
// compare-and-set at the database layer. Schema migrations are embedded
// and applied by Migrate.
package postgres
