//go:build linux

package rlmapi

import (
	"fmt"

	"github.com/haasonsaas/rlm/internal/config"
	"github.com/haasonsaas/rlm/internal/sandbox"
)

func buildFirecrackerBackend(cfg *config.FirecrackerConfig) (sandbox.Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("rlmapi: sandbox.backend=firecracker requires sandbox.firecracker")
	}
	return sandbox.NewFirecracker(sandbox.FirecrackerConfig{
		KernelImagePath: cfg.KernelImagePath,
		RootFSPath:      cfg.RootFSPath,
		VCPUCount:       cfg.VCPUCount,
		MemSizeMiB:      cfg.MemSizeMiB,
		SocketPath:      cfg.SocketPath,
	}), nil
}
