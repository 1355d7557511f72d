package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/corvid-labs/foreman/internal/config"
)

// pidFileName is the supervisor PID file's name inside .foreman/.
const pidFileName = "supervisor.pid"

func pidFilePath(projectPath string) string {
	return filepath.Join(projectPath, config.ForemanDir, pidFileName)
}

// checkNotRunning errors if a live supervisor process already owns
// projectPath, cleaning up a stale PID file left by a killed process.
func checkNotRunning(projectPath string) error {
	path := pidFilePath(projectPath)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		_ = os.Remove(path)
		return nil
	}
	if processExists(pid) {
		return fmt.Errorf("supervisor already running for this project (pid %d)", pid)
	}
	_ = os.Remove(path)
	return nil
}

// acquirePIDFile records the current process's PID for projectPath.
func acquirePIDFile(projectPath string) error {
	return os.WriteFile(pidFilePath(projectPath), []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// releasePIDFile removes projectPath's PID file, if any.
func releasePIDFile(projectPath string) {
	_ = os.Remove(pidFilePath(projectPath))
}

// stopRunningSupervisor signals SIGTERM to the process recorded in
// projectPath's PID file, if one is alive.
func stopRunningSupervisor(projectPath string) error {
	path := pidFilePath(projectPath)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no supervisor is running for this project")
		}
		return fmt.Errorf("read pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("stale pid file removed, no supervisor was running")
	}
	if !processExists(pid) {
		_ = os.Remove(path)
		return fmt.Errorf("stale pid file removed, no supervisor was running")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	return process.Signal(syscall.SIGTERM)
}

func processExists(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
