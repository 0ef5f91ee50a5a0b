package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/gradecall/internal/grading"
)

func TestApplyControl(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    func(grading.State) bool
		wantErr bool
	}{
		{"brightness", "brightness 150", func(s grading.State) bool { return s.Brightness == 150 }, false},
		{"clamped", "contrast 999", func(s grading.State) bool { return s.Contrast == grading.MaxLevel }, false},
		{"bias", "Temperature -40", func(s grading.State) bool { return s.Temperature == -40 }, false},
		{"preset", "preset moody", func(s grading.State) bool { return s.Values() == [6]int{85, 140, 80, -15, 10, -15} }, false},
		{"empty", "   ", func(s grading.State) bool { return s == grading.Defaults() }, false},
		{"unknown preset", "preset sepia", nil, true},
		{"bad value", "tint lots", nil, true},
		{"unknown command", "gamma 2", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := grading.NewModel()
			state, err := applyControl(model, tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, grading.Defaults(), model.State())
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want(state), "state %+v", state)
			assert.Equal(t, state, model.State())
		})
	}
}

func TestApplyControlResetAndHangup(t *testing.T) {
	model := grading.NewModel()
	_, err := applyControl(model, "saturation 20")
	require.NoError(t, err)

	state, err := applyControl(model, "reset")
	require.NoError(t, err)
	assert.Equal(t, grading.Defaults(), state)

	_, err = applyControl(model, "hangup")
	assert.ErrorIs(t, err, errHangup)
}

func TestReadControls(t *testing.T) {
	model := grading.NewModel()
	in := strings.NewReader("brightness 120\nnonsense\nexposure 10\n")
	var out bytes.Buffer

	hungUp := readControls(context.Background(), in, &out, model)
	assert.False(t, hungUp)
	assert.Equal(t, 120, model.State().Brightness)
	assert.Equal(t, 10, model.State().Exposure)
	assert.Contains(t, out.String(), "commands:")

	hungUp = readControls(context.Background(), strings.NewReader("hangup\nbrightness 50\n"), &out, model)
	assert.True(t, hungUp)
	assert.Equal(t, 120, model.State().Brightness)
}
