// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, runtime metrics and debug introspection for the receive
// daemon.
//
// Provides:
//   - Typed configuration loaded through viper, with .env and RXMUX_*
//     environment overrides and config file hot-reload
//   - Per-handler counters exported in Prometheus text format
//   - Named debug probes dumped on demand
package control
