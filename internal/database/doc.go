// Package database provides PostgreSQL connection management for the LISTEN/NOTIFY backplane.
//
// A relay instance holds a small pool for NOTIFY publishes and one dedicated connection for
// LISTEN, since a listening session cannot be shared with pooled queries.
package database
