// Package middleware provides reusable interceptors and reactors for the
// scheduler: size-based batching, retry with backoff and Rego admission policies.
package middleware
