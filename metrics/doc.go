// Package metrics owns the Prometheus registry for the metrics reporter and
// serves it over HTTP.
//
// A registry built by NewRegistry carries the default Go runtime, process and
// build info collectors. Init creates the process-wide registry once at start
// up; it lives for the lifetime of the process. Samples are read from the
// collectors on every scrape, so handlers hold no state of their own.
package metrics
