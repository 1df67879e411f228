// Package database provides the connection pool for the optional
// history archive. Order status transitions and courier breadcrumbs
// land in PostgreSQL; the tracking core itself never reads them back.
package database
