package consoled

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
)

// promptPS1 reproduces the PythonAnywhere console prompt: time, cwd, then a
// bright green dollar sign with a reset before user input.
const promptPS1 = `\[\e[0;0m\]\A ~\[\e[0;33m\] \[\e[1;32m\]$ \[\e[0;0m\]`

// shellStarter launches the console process and returns its terminal.
type shellStarter func(executable string) (io.ReadWriteCloser, func() error, error)

func startBash(executable string) (io.ReadWriteCloser, func() error, error) {
	cmd := exec.Command(executable, "--norc", "--noprofile", "-i")
	cmd.Env = append(os.Environ(), "PS1="+promptPS1, "TERM=xterm")
	f, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: 120, Rows: 30})
	if err != nil {
		return nil, nil, fmt.Errorf("start %s: %w", executable, err)
	}
	stop := func() error {
		_ = f.Close()
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		_ = cmd.Wait()
		return nil
	}
	return f, stop, nil
}

// session is one emulated console. The process does not start until the
// console page is visited, matching the platform's 412 behavior for input
// sent to a console nobody has opened.
type session struct {
	id         int
	executable string

	mu       sync.Mutex
	term     io.ReadWriteCloser
	stop     func() error
	buf      []byte
	lastUsed time.Time

	start shellStarter
}

// maxBuffer bounds the retained transcript. The real API also returns only a
// recent window of output.
const maxBuffer = 64 << 10

func newSession(id int, executable string, start shellStarter) *session {
	return &session{
		id:         id,
		executable: executable,
		lastUsed:   time.Now(),
		start:      start,
	}
}

func (s *session) started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.term != nil
}

// ensureStarted launches the shell on first use and begins draining its
// output into the transcript buffer.
func (s *session) ensureStarted() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.term != nil {
		return nil
	}
	term, stop, err := s.start(s.executable)
	if err != nil {
		return err
	}
	s.term = term
	s.stop = stop
	s.lastUsed = time.Now()
	go s.drain(term)
	return nil
}

func (s *session) drain(term io.Reader) {
	chunk := make([]byte, 4096)
	for {
		n, err := term.Read(chunk)
		if n > 0 {
			s.mu.Lock()
			s.buf = append(s.buf, chunk[:n]...)
			if len(s.buf) > maxBuffer {
				s.buf = s.buf[len(s.buf)-maxBuffer:]
			}
			s.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (s *session) sendInput(input string) error {
	s.mu.Lock()
	term := s.term
	s.lastUsed = time.Now()
	s.mu.Unlock()
	if term == nil {
		return errNotStarted
	}
	_, err := io.WriteString(term, input)
	return err
}

func (s *session) latestOutput() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = time.Now()
	return string(s.buf)
}

func (s *session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

func (s *session) close() {
	s.mu.Lock()
	stop := s.stop
	s.term = nil
	s.stop = nil
	s.mu.Unlock()
	if stop != nil {
		_ = stop()
	}
}
