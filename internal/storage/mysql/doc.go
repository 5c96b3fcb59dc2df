// Package mysql archives terminal attestation sessions to MySQL. It
// encapsulates schema migrations, transactional upserts and strongly
// typed queries over archived sessions and their ledger receipts.
package mysql
