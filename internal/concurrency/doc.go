// File: internal/concurrency/doc.go
// License: Apache-2.0
//
// Package concurrency provides the two schedulers the server runs on: a
// fixed worker pool that runs at most one job per connection id at a time,
// and a tick-driven cron for named one-shot and periodic jobs.
package concurrency
