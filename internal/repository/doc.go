// Package repository implements the client-visible memory operations:
// store, get, update, delete, search, statistics, and the admin-only
// compact sweep. It composes the row store, embedding service, scoring
// engine, search engine, and tier manager behind a single surface so
// callers (the CLI and the HTTP transport) never talk to those
// components directly.
package repository
