// Package health exposes the Health & Statistics surface: the plain
// counters map returned by the Memory API's get_statistics operation
// (§4.6), mirrored as Prometheus gauges/histograms for tier
// populations, query/embedding latency, and circuit-breaker state
// (§11). It has no dependency on the repository, store, or embedding
// packages; callers feed it a polling function and record latency/
// breaker-state observations directly at the call site.
package health
