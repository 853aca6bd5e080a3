// Package api exposes the Memory API's six operations
// (store_memory, get_memory, update_memory, delete_memory, search_memory,
// get_statistics) plus a health/metrics surface over HTTP, using the same
// gin-gonic router, gin-contrib/cors setup, and API-key/rate-limit
// middleware chain as the rest of this module's services.
package api
