//go:build windows

package main

import (
	"os"
	"os/exec"
)

func configureDaemonProc(cmd *exec.Cmd) {
	// Windows has no session semantics; the detached child is independent
	// enough for our use.
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	p.Release()
	return true
}

func terminateProcess(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	defer p.Release()
	return p.Kill()
}
