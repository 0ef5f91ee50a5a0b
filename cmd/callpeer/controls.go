package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mossy-p/gradecall/internal/grading"
)

const controlsHelp = `commands:
  brightness|contrast|saturation|temperature|tint|exposure <value>
  preset <natural|cinematic|vibrant|moody>
  reset
  show
  hangup`

var errHangup = errors.New("hangup requested")

// applyControl runs one grading command against model. It returns
// errHangup for the hangup command.
func applyControl(model *grading.Model, line string) (grading.State, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return model.State(), nil
	}

	switch fields[0] {
	case "reset":
		return model.Reset(), nil
	case "show":
		return model.State(), nil
	case "hangup", "quit", "exit":
		return model.State(), errHangup
	case "preset":
		if len(fields) != 2 {
			return model.State(), fmt.Errorf("usage: preset <name>")
		}
		p, ok := grading.PresetByName(fields[1])
		if !ok {
			return model.State(), fmt.Errorf("unknown preset %q", fields[1])
		}
		return model.ApplyPreset(p.Values), nil
	}

	if len(fields) != 2 {
		return model.State(), fmt.Errorf("unknown command %q", line)
	}
	v, err := strconv.Atoi(fields[1])
	if err != nil {
		return model.State(), fmt.Errorf("invalid value %q", fields[1])
	}

	var u grading.Update
	switch fields[0] {
	case "brightness":
		u.Brightness = grading.Int(v)
	case "contrast":
		u.Contrast = grading.Int(v)
	case "saturation":
		u.Saturation = grading.Int(v)
	case "temperature":
		u.Temperature = grading.Int(v)
	case "tint":
		u.Tint = grading.Int(v)
	case "exposure":
		u.Exposure = grading.Int(v)
	default:
		return model.State(), fmt.Errorf("unknown command %q", fields[0])
	}
	return model.SetState(u), nil
}

// readControls applies commands from r until it ends, ctx is cancelled or
// the user hangs up. It reports whether the user asked to hang up.
func readControls(ctx context.Context, r io.Reader, w io.Writer, model *grading.Model) bool {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return false
		case line, ok := <-lines:
			if !ok {
				return false
			}
			state, err := applyControl(model, line)
			if errors.Is(err, errHangup) {
				return true
			}
			if err != nil {
				logrus.WithError(err).Warn("Invalid grading command")
				fmt.Fprintln(w, controlsHelp)
				continue
			}
			fmt.Fprintf(w, "%+v -> %s\n", state, grading.Compute(state))
		}
	}
}
