// Package control
//
// Configuration, hot reload, metrics and debug introspection for the
// wordrush process.
//
// Provides concurrent-safe state handling primitives including:
//   - Typed process configuration loaded from the environment and .env files
//   - A snapshot config store with reload listeners driven by SIGHUP
//   - Prometheus metrics for connections, upgrades, messages and responses
//   - Named debug probes and zap logger construction
package control
