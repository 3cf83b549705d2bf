package rlmapi

import (
	"fmt"

	"github.com/haasonsaas/rlm/internal/config"
	"github.com/haasonsaas/rlm/internal/sandbox"
)

// buildSandboxBackend constructs the one Backend a Runtime drives for
// the lifetime of every session it runs, selected by config just as the
// teacher's gateway picks an LLM provider by configured name rather
// than by per-request argument. The firecracker case is split into a
// build-tagged helper (sandbox_firecracker_linux.go /
// sandbox_firecracker_other.go) since the microVM backend itself is
// //go:build linux only.
func buildSandboxBackend(cfg config.SandboxConfig, workerPath string) (sandbox.Backend, error) {
	switch cfg.Backend {
	case config.BackendProcess, "":
		return sandbox.NewProcess(workerPath), nil
	case config.BackendFirecracker:
		return buildFirecrackerBackend(cfg.Firecracker)
	case config.BackendDaytona:
		if cfg.Daytona == nil {
			return nil, fmt.Errorf("rlmapi: sandbox.backend=daytona requires sandbox.daytona")
		}
		return sandbox.NewDaytona(sandbox.DaytonaConfig{
			APIURL:         cfg.Daytona.APIURL,
			APIKey:         cfg.Daytona.APIKey,
			JWTToken:       cfg.Daytona.JWTToken,
			OrganizationID: cfg.Daytona.OrganizationID,
			Target:         cfg.Daytona.Target,
		})
	default:
		return nil, fmt.Errorf("rlmapi: unknown sandbox backend %q", cfg.Backend)
	}
}
