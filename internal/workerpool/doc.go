// Package workerpool provides a bounded pool of goroutines with an explicit
// stop that drains accepted work. Listeners dispatch each inbound request
// through one.
package workerpool
