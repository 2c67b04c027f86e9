// Package buildinfo exposes build-time version information.
//
// Values are injected via ldflags:
//
//	go build -ldflags "-X github.com/yndnr/pksa-go/internal/infra/buildinfo.Version=v1.0.0 \
//	  -X github.com/yndnr/pksa-go/internal/infra/buildinfo.Commit=abc123"
//
// When GoVersion is not injected it is read from the binary.
//
// @design DS-0501
package buildinfo
