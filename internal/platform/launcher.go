package platform

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// ExecLauncher launches workers with os/exec, dropping to the session
// user's credentials and detaching into a fresh process group so a
// hung worker can be force-terminated together with its children.
type ExecLauncher struct{}

// NewExecLauncher returns the real Launcher implementation.
func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{}
}

var _ Launcher = (*ExecLauncher)(nil)

// Launch starts path with args in the context of the session's logon.
// Returns ErrNoLogon if the session user cannot be resolved to live
// credentials.
func (e *ExecLauncher) Launch(ctx context.Context, session SessionInfo, path string, args []string) (Process, error) {
	if session.User == "" {
		return nil, fmt.Errorf("session %d: %w", session.ID, ErrNoLogon)
	}

	u, err := user.Lookup(session.User)
	if err != nil {
		return nil, fmt.Errorf("session %d user %q: %w", session.ID, session.User, ErrNoLogon)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return nil, fmt.Errorf("session %d: parsing uid %q: %w", session.ID, u.Uid, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return nil, fmt.Errorf("session %d: parsing gid %q: %w", session.ID, u.Gid, err)
	}

	cmd := exec.Command(path, args...)
	cmd.Env = []string{
		"HOME=" + u.HomeDir,
		"USER=" + u.Username,
		"LOGNAME=" + u.Username,
		"PATH=" + os.Getenv("PATH"),
		"WARDEN_SESSION_ID=" + strconv.Itoa(session.ID),
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
	// Only drop credentials when we are not already that user; calling
	// setuid to ourselves fails for unprivileged dev runs.
	if os.Getuid() != uid {
		cmd.SysProcAttr.Credential = &syscall.Credential{
			Uid: uint32(uid),
			Gid: uint32(gid),
		}
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launching %s for session %d: %w", path, session.ID, err)
	}

	p := &execProcess{
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

// execProcess adapts *exec.Cmd to the Process interface.
type execProcess struct {
	cmd     *exec.Cmd
	done    chan struct{}
	mu      sync.Mutex
	exitErr error
}

func (p *execProcess) PID() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *execProcess) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

// Kill sends SIGKILL to the worker's whole process group. The worker
// runs under Setsid, so its group ID equals its PID.
func (p *execProcess) Kill() error {
	pid := p.cmd.Process.Pid
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil {
		// Group kill can fail if the leader already exited; fall back
		// to the single process.
		return p.cmd.Process.Kill()
	}
	return nil
}
