package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"vigil/internal/core/ports"
)

// videoSource opens a reader of Annex-B H.264.
type videoSource interface {
	Name() string
	Open(ctx context.Context, p ports.VideoParams) (io.ReadCloser, error)
	// Paced sources are replayed at the nominal frame rate and loop at EOF.
	Paced() bool
}

type commandSource struct {
	name    string
	command string
}

func (s *commandSource) Name() string { return s.name }
func (s *commandSource) Paced() bool  { return false }

func (s *commandSource) Open(ctx context.Context, p ports.VideoParams) (io.ReadCloser, error) {
	return startCommand(ctx, s.command, map[string]string{
		"width":   strconv.Itoa(p.Width),
		"height":  strconv.Itoa(p.Height),
		"fps":     strconv.Itoa(p.FPS),
		"bitrate": strconv.Itoa(p.Bitrate),
	})
}

type fileSource struct {
	path string
}

func (s *fileSource) Name() string { return "file" }
func (s *fileSource) Paced() bool  { return true }

func (s *fileSource) Open(_ context.Context, _ ports.VideoParams) (io.ReadCloser, error) {
	return os.Open(s.path)
}

// renderCommand splits a command line on whitespace and substitutes
// {name} placeholders inside each argument.
func renderCommand(command string, vars map[string]string) []string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)

	args := strings.Fields(command)
	for i, a := range args {
		args[i] = r.Replace(a)
	}
	return args
}

// commandAvailable reports whether the program of a command line resolves.
func commandAvailable(command string) bool {
	args := strings.Fields(command)
	if len(args) == 0 {
		return false
	}
	_, err := exec.LookPath(args[0])
	return err == nil
}

func startCommand(ctx context.Context, command string, vars map[string]string) (io.ReadCloser, error) {
	args := renderCommand(command, vars)
	if len(args) == 0 {
		return nil, errors.New("empty command")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	stderr := &tailBuffer{limit: 2048}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", args[0], err)
	}
	return &processReader{ReadCloser: stdout, cmd: cmd, stderr: stderr}, nil
}

// processReader is the stdout of a child process. Close kills the process.
type processReader struct {
	io.ReadCloser
	cmd    *exec.Cmd
	stderr *tailBuffer
	once   sync.Once
}

func (p *processReader) Read(b []byte) (int, error) {
	n, err := p.ReadCloser.Read(b)
	if err == io.EOF {
		if tail := p.stderr.String(); tail != "" {
			return n, fmt.Errorf("%s exited: %s", p.cmd.Path, tail)
		}
	}
	return n, err
}

func (p *processReader) Close() error {
	p.once.Do(func() {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		_ = p.ReadCloser.Close()
		_ = p.cmd.Wait()
	})
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(b)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return len(b), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(t.buf.String())
}
