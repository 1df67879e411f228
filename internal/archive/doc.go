// Package archive persists order history to PostgreSQL: status
// transitions and courier location breadcrumbs. Rows are batched and
// flushed on size or interval, inserted append-only with conflict
// skipping so replayed events never duplicate history.
//
// Archiving is optional. The daemon runs without a database; when
// disabled nothing in the hot path touches this package.
package archive
