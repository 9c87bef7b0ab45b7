package scheduler

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"canary-convert/internal/control"
	"canary-convert/internal/model"
	"canary-convert/internal/worker"
)

// ExecLauncher runs every job in a fresh process, normally the current binary started
// with its hidden worker command.
type ExecLauncher struct {
	Path string
	Args []string
	Env  []string
	// Spec builds the worker spec for a job.
	Spec func(job model.Job) worker.Spec
	// StderrLine receives every line the worker writes to stderr.
	StderrLine func(job model.Job, line string)
}

func (l *ExecLauncher) Check() error {
	if strings.TrimSpace(l.Path) == "" {
		return fmt.Errorf("worker executable is not set")
	}
	info, err := os.Stat(l.Path)
	if err != nil {
		return fmt.Errorf("worker executable %s: %w", l.Path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("worker executable %s is a directory", l.Path)
	}
	if l.Spec == nil {
		return fmt.Errorf("worker spec builder is not set")
	}
	return nil
}

func (l *ExecLauncher) Launch(job model.Job, buffer int) (Process, error) {
	cmd := exec.Command(l.Path, l.Args...)
	cmd.Env = append(os.Environ(), l.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("setup stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("setup stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("setup stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}

	p := &execProcess{cmd: cmd, exited: make(chan struct{})}
	p.stderrWG.Add(1)
	go p.readStderr(stderr, func(line string) {
		if l.StderrLine != nil {
			l.StderrLine(job, line)
		}
	})

	if err := worker.WriteSpec(stdin, l.Spec(job)); err != nil {
		_ = cmd.Process.Kill()
		_, _ = io.Copy(io.Discard, stdout)
		p.stderrWG.Wait()
		_ = cmd.Wait()
		return nil, err
	}

	p.channel = control.Attach(job, stdout, stdin, buffer)
	go p.wait()
	return p, nil
}

type execProcess struct {
	cmd      *exec.Cmd
	channel  *control.Channel
	exited   chan struct{}
	err      error
	stderrWG sync.WaitGroup
	mu       sync.Mutex
	errTail  strings.Builder
}

func (p *execProcess) readStderr(r io.Reader, forward func(string)) {
	defer p.stderrWG.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		p.mu.Lock()
		appendLimited(&p.errTail, line)
		p.mu.Unlock()
		forward(line)
	}
}

// appendLimited keeps the first few KB of worker stderr for error reports.
func appendLimited(b *strings.Builder, line string) {
	const maxKeep = 4096
	if b.Len() >= maxKeep {
		return
	}
	toWrite := line + "\n"
	if remain := maxKeep - b.Len(); len(toWrite) > remain {
		toWrite = toWrite[:remain]
	}
	b.WriteString(toWrite)
}

// wait reaps the process once its output has been consumed, as exec requires.
func (p *execProcess) wait() {
	<-p.channel.ReadDone()
	p.stderrWG.Wait()
	err := p.cmd.Wait()
	if err != nil {
		p.mu.Lock()
		if tail := strings.TrimSpace(p.errTail.String()); tail != "" {
			err = fmt.Errorf("%w: %s", err, tail)
		}
		p.mu.Unlock()
	}
	p.err = err
	close(p.exited)
}

func (p *execProcess) Channel() *control.Channel {
	return p.channel
}

func (p *execProcess) Exited() <-chan struct{} {
	return p.exited
}

func (p *execProcess) ExitErr() error {
	select {
	case <-p.exited:
		return p.err
	default:
		return nil
	}
}

func (p *execProcess) Terminate() error {
	select {
	case <-p.exited:
		return nil
	default:
	}
	return terminate(p.cmd.Process)
}

func (p *execProcess) Kill() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill worker %d: %w", p.cmd.Process.Pid, err)
	}
	return nil
}
