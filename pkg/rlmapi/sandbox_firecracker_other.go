//go:build !linux

package rlmapi

import (
	"fmt"

	"github.com/haasonsaas/rlm/internal/config"
	"github.com/haasonsaas/rlm/internal/sandbox"
)

func buildFirecrackerBackend(cfg *config.FirecrackerConfig) (sandbox.Backend, error) {
	return nil, fmt.Errorf("rlmapi: sandbox.backend=firecracker is only available on linux")
}
