//go:build !unix

package executor

import "os/exec"

// setProcessGroup is a no-op where process groups are unavailable; cancellation
// kills only the trainer process.
func setProcessGroup(*exec.Cmd) {}
