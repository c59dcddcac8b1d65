// Package prometheus renders engine metrics in Prometheus text exposition
// format, either as a string or as an http.Handler. It pulls point-in-time
// snapshots so scraping never touches engine hot paths.
package prometheus
