//go:build unix

package runner

import (
	"os/exec"
	"syscall"

	"github.com/depotgrab/depotgrab/internal/utils"
)

// setProcGroup puts the child in its own process group so cancellation can
// take out the tool and anything it spawned in one signal.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		utils.Debug("runner: kill process group %d: %v", pid, err)
		cmd.Process.Kill()
	}
}
