//go:build !unix

package runner

import "os/exec"

// killProcessGroup is a no-op here; WaitDelay still unblocks Wait.
func killProcessGroup(*exec.Cmd) {}
