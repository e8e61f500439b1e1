// Package integration runs the counter service against a real Redis
// started with testcontainers. Run with: go test -tags integration ./...
package integration
