//go:build tools
// +build tools

// Package tools documents development tool dependencies.
// These tools are run with `go run`/`go install` at a pinned version and are not
// tracked in go.mod since they are development tools, not runtime dependencies.
package tools

// Development tools:
//
// mockgen - Generates the gomock doubles in internal/mocks
//   Run: go generate ./internal/mocks
//   Version: go.uber.org/mock v0.6.0 (matches the go.mod test dependency)
//   Docs: https://github.com/uber-go/mock
//
// Air - Live reload while iterating on cmd/proofwork
//   Install: go install github.com/air-verse/air@v1.63.0
//   Run: air --build.cmd "go build -o ./tmp/proofwork ./cmd/proofwork" --build.bin ./tmp/proofwork
//   Docs: https://github.com/air-verse/air
