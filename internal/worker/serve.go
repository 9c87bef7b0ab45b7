package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"canary-convert/internal/control"
	"canary-convert/internal/format"
	"canary-convert/internal/model"
)

// WriteSpec sends spec as the first line of a worker's input stream.
func WriteSpec(w io.Writer, spec Spec) error {
	data, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("encode job spec: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("send job spec: %w", err)
	}
	return nil
}

// Serve is the worker process entry point. The first line of in is the job spec and
// every following line a directive; messages are written to out as JSON lines.
func Serve(ctx context.Context, reg *format.Registry, in io.Reader, out io.Writer) (model.State, error) {
	br := bufio.NewReader(in)
	line, err := br.ReadBytes('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		return "", fmt.Errorf("read job spec: %w", err)
	}
	var spec Spec
	if err := json.Unmarshal(line, &spec); err != nil {
		return "", fmt.Errorf("decode job spec: %w", err)
	}
	if spec.Job.ID == "" {
		return "", fmt.Errorf("job spec has no job id")
	}

	outbox := control.NewOutbox(out, spec.Settings.OutboxSize)
	state := New(spec, reg, outbox, control.ReadDirectives(br)).Run(ctx)
	if err := outbox.Close(); err != nil {
		return state, fmt.Errorf("write progress stream: %w", err)
	}
	return state, nil
}
