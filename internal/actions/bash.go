package actions

import (
	"bytes"
	"context"
	"os/exec"
	"syscall"
	"time"

	"github.com/fsmhost/fsmhost/internal/ectx"
)

// bashTimeoutKillGrace is how long the subprocess is given to exit
// after SIGTERM before SIGKILL is sent (spec.md §5: "send TERM, wait
// up to 5s, then force kill").
const bashTimeoutKillGrace = 5 * time.Second

// bashAction implements bash: run a subprocess with a timeout,
// capturing stdout/stderr and guaranteeing the process (and any
// children sharing its process group) is dead before returning on
// timeout (spec.md §8.5: no descendant survives a bash timeout).
type bashAction struct{ deps *Deps }

func (a *bashAction) Execute(_ context.Context, cfg map[string]any, ec ectx.Context) (string, error) {
	command := cfgString(cfg, "command", "")
	timeoutSec := cfgFloat(cfg, "timeout", 30)
	success := cfgString(cfg, "success", "completed")
	errEvent := cfgString(cfg, "error", "error")

	if command == "" {
		ec.Set("last_error", "bash: command is required")
		ec.Set("last_error_command", "")
		return errEvent, nil
	}

	timeout := time.Duration(timeoutSec * float64(time.Second))

	cmd := exec.Command("sh", "-c", command)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		ec.Set("last_error", err.Error())
		ec.Set("last_error_command", command)
		return errEvent, nil
	}

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	select {
	case waitErr := <-waitDone:
		ec.Set("stdout", stdout.String())
		ec.Set("stderr", stderr.String())
		if waitErr != nil {
			ec.Set("last_error", waitErr.Error())
			ec.Set("last_error_command", command)
			ec.Set("exit_code", exitCode(waitErr))
			return errEvent, nil
		}
		ec.Set("exit_code", 0)
		return success, nil

	case <-time.After(timeout):
		killProcessGroup(cmd.Process.Pid, waitDone)
		ec.Set("last_error", "bash: command timed out after "+timeout.String())
		ec.Set("last_error_command", command)
		return errEvent, nil
	}
}

// killProcessGroup sends SIGTERM to the process group, waits up to
// bashTimeoutKillGrace for the already-running Wait goroutine to
// reap it, then escalates to SIGKILL on the group if it's still
// alive. waitDone must be the channel the Wait goroutine writes to;
// draining it here avoids leaking that goroutine.
func killProcessGroup(pgid int, waitDone <-chan error) {
	_ = syscall.Kill(-pgid, syscall.SIGTERM)

	select {
	case <-waitDone:
		return
	case <-time.After(bashTimeoutKillGrace):
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	}
	<-waitDone
}

func exitCode(err error) int {
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}
