package capture

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"
)

// readChunkFrames bounds a single read from the capture command.
const readChunkFrames = 4096

// ExecDevice captures by running a command that writes raw little-endian
// signed 16-bit PCM to stdout, e.g. arecord or ffmpeg. The placeholders
// {sample_rate}, {channels}, {frames} and {seconds} are substituted in
// every argument.
type ExecDevice struct {
	cmd []string
}

func NewExecDevice(command string) (*ExecDevice, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("capture command is empty")
	}
	return &ExecDevice{cmd: args}, nil
}

func (d *ExecDevice) Open(ctx context.Context, p Params) (Stream, error) {
	args := d.args(p)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	s := &execStream{cmd: cmd}
	cmd.Stderr = &s.stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start capture command: %w", err)
	}
	s.r = bufio.NewReaderSize(stdout, readChunkFrames*2)
	return s, nil
}

func (d *ExecDevice) args(p Params) []string {
	replacer := strings.NewReplacer(
		"{sample_rate}", strconv.Itoa(p.SampleRate),
		"{channels}", strconv.Itoa(p.Channels),
		"{frames}", strconv.Itoa(p.Frames),
		"{seconds}", strconv.FormatFloat(p.Seconds(), 'f', -1, 64),
	)
	args := make([]string, len(d.cmd))
	for i, a := range d.cmd {
		args[i] = replacer.Replace(a)
	}
	return args
}

type execStream struct {
	cmd     *exec.Cmd
	r       *bufio.Reader
	stderr  bytes.Buffer
	raw     []byte
	waited  bool
	waitErr error
}

func (s *execStream) Read(buf []int16) (int, error) {
	frames := len(buf)
	if frames > readChunkFrames {
		frames = readChunkFrames
	}
	if cap(s.raw) < frames*2 {
		s.raw = make([]byte, frames*2)
	}
	raw := s.raw[:frames*2]

	n, err := io.ReadFull(s.r, raw)
	got := n / 2
	for i := 0; i < got; i++ {
		buf[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		if werr := s.wait(); werr != nil {
			return got, fmt.Errorf("capture command exited: %w: %s", werr, strings.TrimSpace(s.stderr.String()))
		}
		return got, io.EOF
	}
	return got, err
}

func (s *execStream) Close() error {
	if s.waited {
		return nil
	}
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.wait()
	return nil
}

func (s *execStream) wait() error {
	if !s.waited {
		s.waited = true
		s.waitErr = s.cmd.Wait()
	}
	return s.waitErr
}
