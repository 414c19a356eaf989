package sshexec

import (
	"context"
	"fmt"

	"github.com/forgecloud/podscaler/core/types"
)

// setupCommands bootstraps ComfyUI on a freshly provisioned pod:
// installs screen, makes the output directory world-writable for the
// dispatcher to read artifacts back out of, and launches the server
// detached so it survives the SSH session closing.
func setupCommands(outputDir string) []string {
	return []string{
		"apt update -qq",
		"apt install -y screen",
		fmt.Sprintf("mkdir -p %s", outputDir),
		fmt.Sprintf("chmod 666 %s", outputDir),
		"cd /workspace/ComfyUI && screen -dmS comfyui /workspace/ComfyUI/venv/bin/python3 " +
			fmt.Sprintf("/workspace/ComfyUI/main.py --listen --disable-metadata --output-directory %s", outputDir),
	}
}

// SetupComfyUI runs the bootstrap sequence against a pod's SSH
// endpoint. It does not wait for the HTTP server to come up; that
// polling belongs to the caller (core/podlifecycle), which already
// owns the pod's warm-up deadline bookkeeping.
func SetupComfyUI(ctx context.Context, remote Remote, info types.PodInfo, outputDir string) error {
	for _, cmd := range setupCommands(outputDir) {
		if _, err := remote.Run(ctx, info.PublicIP, info.SSHPort(), cmd); err != nil {
			return fmt.Errorf("setup command %q: %w", cmd, err)
		}
	}
	return nil
}
