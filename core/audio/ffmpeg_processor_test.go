package audio

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"undersounds/core/apperr"
	"undersounds/model"

	"github.com/stretchr/testify/require"
)

func TestBuildEncodeArgsFollowsPolicy(t *testing.T) {
	policy, ok := model.PolicyFor(model.TierMedium)
	require.True(t, ok)

	args := buildEncodeArgs("in.flac", "out/medium.m4a.part", policy)
	joined := strings.Join(args, " ")

	require.Contains(t, joined, "-i in.flac")
	require.Contains(t, joined, "-c:a aac")
	require.Contains(t, joined, "-b:a 128k")
	require.Contains(t, joined, "-ac 2")
	require.Contains(t, joined, "-ar 44100")
	require.Contains(t, joined, "-f ipod")
	require.Equal(t, "out/medium.m4a.part", args[len(args)-1])
}

func TestEncodeRejectsMissingInput(t *testing.T) {
	p := NewFFmpegProcessor("ffmpeg-does-not-exist", 0)
	policy, _ := model.PolicyFor(model.TierLow)

	err := p.Encode(context.Background(), filepath.Join(t.TempDir(), "missing.mp3"), filepath.Join(t.TempDir(), "low.m4a"), policy)
	require.ErrorIs(t, err, apperr.ErrTransientIO)
}

func TestEncodeReportsEncoderFailure(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.mp3")
	require.NoError(t, os.WriteFile(input, []byte("not really audio"), 0o644))

	p := NewFFmpegProcessor(filepath.Join(dir, "no-such-ffmpeg"), 0)
	policy, _ := model.PolicyFor(model.TierLow)

	err := p.Encode(context.Background(), input, filepath.Join(dir, "out", "low.m4a"), policy)
	require.ErrorIs(t, err, apperr.ErrEncodeFailure)
}

func TestParseDuration(t *testing.T) {
	d, err := parseDuration("183.52")
	require.NoError(t, err)
	require.InDelta(t, 183.52, d, 0.01)

	_, err = parseDuration("")
	require.Error(t, err)
	_, err = parseDuration("abc")
	require.Error(t, err)
}

func TestTail(t *testing.T) {
	require.Equal(t, "abc", tail("abc", 10))
	require.Equal(t, "cd", tail("abcd", 2))
}
