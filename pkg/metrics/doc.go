// Package metrics provides optional Prometheus instrumentation for the
// connection pool, the routing subsystem, and the managed transaction
// executor. Nothing in the driver requires a scraper to be present; every
// collector here is safe to update even if /metrics is never served.
package metrics
