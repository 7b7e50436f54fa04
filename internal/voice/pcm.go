package voice

import (
	"bytes"
	"context"
	"io"
	"os/exec"

	"github.com/cockroachdb/errors"
)

// pcmStream runs ffmpeg decoding an input URL to raw s16le 48k stereo PCM
// on stdout.
type pcmStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	cancel context.CancelFunc
}

func startPCM(ctx context.Context, inputURL string) (*pcmStream, error) {
	ctx2, cancel := context.WithCancel(ctx)

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5",
		"-i", inputURL,
		"-vn",
		"-ac", "2",
		"-ar", "48000",
		"-f", "s16le",
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx2, "ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "ffmpeg stdout")
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, errors.Wrapf(err, "ffmpeg start (stderr: %s)", stderr.String())
	}

	return &pcmStream{cmd: cmd, stdout: stdout, stderr: stderr, cancel: cancel}, nil
}

func (p *pcmStream) Stdout() io.Reader { return p.stdout }

func (p *pcmStream) Close() {
	p.cancel()
	_ = p.cmd.Process.Kill()
	_ = p.cmd.Wait()
}
