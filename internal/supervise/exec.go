package supervise

import (
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// ExecLauncher spawns real OS processes.
type ExecLauncher struct{}

func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{}
}

func (l *ExecLauncher) Launch(spec ServiceSpec) (Process, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd}, nil
}

// execProcess wraps exec.Cmd. Wait on exec.Cmd may only be called
// once, so the result is cached behind a sync.Once.
type execProcess struct {
	cmd     *exec.Cmd
	waitOne sync.Once
	waitErr error
}

func (p *execProcess) Terminate() error {
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *execProcess) Wait() error {
	p.waitOne.Do(func() {
		p.waitErr = p.cmd.Wait()
	})
	return p.waitErr
}
