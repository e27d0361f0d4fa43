package streaming

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"undersounds/core/apperr"
	"undersounds/core/keylock"
	"undersounds/model"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/require"
)

// fakeEncoder 写入固定内容代替 ffmpeg
type fakeEncoder struct {
	calls  int32
	delay  time.Duration
	failOn map[model.QualityTier]error

	mu      sync.Mutex
	outputs []string
}

func (f *fakeEncoder) Encode(ctx context.Context, in, out string, policy model.TierPolicy) error {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := f.failOn[policy.Tier]; err != nil {
		// 失败的编码也可能留下半截文件
		_ = os.WriteFile(out, []byte("partial"), 0o644)
		return apperr.EncodeFailure(err, "encode %s", policy.Tier)
	}
	f.mu.Lock()
	f.outputs = append(f.outputs, out)
	f.mu.Unlock()
	return os.WriteFile(out, []byte("m4a:"+policy.Bitrate), 0o644)
}

func (f *fakeEncoder) Calls() int { return int(atomic.LoadInt32(&f.calls)) }

func newTestLayout(t *testing.T) Layout {
	t.Helper()
	root := t.TempDir()
	l := Layout{MusicDir: filepath.Join(root, "music"), VariantsDir: filepath.Join(root, "music", "variants")}
	require.NoError(t, os.MkdirAll(l.MusicDir, 0o755))
	return l
}

func writeSource(t *testing.T, l Layout, name string) string {
	t.Helper()
	p := filepath.Join(l.MusicDir, name)
	require.NoError(t, os.WriteFile(p, []byte("ID3 source audio"), 0o644))
	return p
}

func TestGenerateProducesAllTiers(t *testing.T) {
	layout := newTestLayout(t)
	src := writeSource(t, layout, "a.mp3")
	enc := &fakeEncoder{}
	gen := NewGenerator(enc, layout, nil)

	variants, err := gen.Generate(context.Background(), 7, src)
	require.NoError(t, err)
	require.Len(t, variants, 4)
	require.Equal(t, 4, enc.Calls())

	for _, p := range model.QualityTiers() {
		v := variants[p.Tier]
		require.Equal(t, p.Bitrate, v.Bitrate)
		require.Equal(t, VariantURL(7, p.Tier), v.URL)
		require.Equal(t, int64(len("m4a:"+p.Bitrate)), v.FileSize)
		require.FileExists(t, layout.VariantPath(7, p.Tier))
		require.NoFileExists(t, layout.VariantPath(7, p.Tier)+partExt)
	}

	// 编码器只看到 .part 临时文件
	for _, out := range enc.outputs {
		require.Equal(t, partExt, filepath.Ext(out))
	}
}

func TestGenerateIsIdempotent(t *testing.T) {
	layout := newTestLayout(t)
	src := writeSource(t, layout, "a.mp3")
	enc := &fakeEncoder{}
	gen := NewGenerator(enc, layout, nil)

	first, err := gen.Generate(context.Background(), 1, src)
	require.NoError(t, err)
	require.Equal(t, 4, enc.Calls())

	second, err := gen.Generate(context.Background(), 1, src)
	require.NoError(t, err)
	require.Equal(t, 4, enc.Calls(), "second run must not re-encode")

	for tier, v := range first {
		require.Equal(t, v.FileSize, second[tier].FileSize)
		require.Equal(t, v.URL, second[tier].URL)
	}
}

func TestGeneratePartialFailureRetainsSuccesses(t *testing.T) {
	layout := newTestLayout(t)
	src := writeSource(t, layout, "a.mp3")
	enc := &fakeEncoder{failOn: map[model.QualityTier]error{
		model.TierHigh: errors.New("exit status 1"),
		model.TierHQ:   errors.New("exit status 1"),
	}}
	gen := NewGenerator(enc, layout, nil)

	variants, err := gen.Generate(context.Background(), 3, src)
	require.Error(t, err)
	require.ErrorIs(t, err, apperr.ErrEncodeFailure)
	require.Contains(t, err.Error(), "tier high")
	require.Contains(t, err.Error(), "tier hq")
	require.Equal(t, 4, enc.Calls(), "siblings must not be cancelled")

	require.Len(t, variants, 2)
	require.FileExists(t, layout.VariantPath(3, model.TierLow))
	require.FileExists(t, layout.VariantPath(3, model.TierMedium))
	require.NoFileExists(t, layout.VariantPath(3, model.TierHigh))
	require.NoFileExists(t, layout.VariantPath(3, model.TierHigh)+partExt)

	// 重试只补齐失败的档位
	enc.failOn = nil
	variants, err = gen.Generate(context.Background(), 3, src)
	require.NoError(t, err)
	require.Len(t, variants, 4)
	require.Equal(t, 6, enc.Calls())
}

func TestGenerateMissingSource(t *testing.T) {
	layout := newTestLayout(t)
	gen := NewGenerator(&fakeEncoder{}, layout, nil)

	_, err := gen.Generate(context.Background(), 1, filepath.Join(layout.MusicDir, "missing.mp3"))
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGenerateConcurrencyBoundedBySlowestTier(t *testing.T) {
	layout := newTestLayout(t)
	srcA := writeSource(t, layout, "a.mp3")
	srcB := writeSource(t, layout, "b.mp3")
	delay := 150 * time.Millisecond
	enc := &fakeEncoder{delay: delay}
	gen := NewGenerator(enc, layout, keylock.New())

	start := time.Now()
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, src := range []string{srcA, srcB} {
		wg.Add(1)
		go func(i int, src string) {
			defer wg.Done()
			_, errs[i] = gen.Generate(context.Background(), int64(i+1), src)
		}(i, src)
	}
	wg.Wait()
	elapsed := time.Since(start)

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, 8, enc.Calls())
	// 串行执行需要 8 * delay
	require.Less(t, elapsed, 4*delay)
}

func TestGenerateSerializesSameTrack(t *testing.T) {
	layout := newTestLayout(t)
	src := writeSource(t, layout, "a.mp3")
	enc := &fakeEncoder{delay: 50 * time.Millisecond}
	gen := NewGenerator(enc, layout, nil)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = gen.Generate(context.Background(), 9, src)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 4, enc.Calls())
}

func TestScanExisting(t *testing.T) {
	layout := newTestLayout(t)
	gen := NewGenerator(&fakeEncoder{}, layout, nil)
	require.Empty(t, gen.ScanExisting(5))

	require.NoError(t, os.MkdirAll(layout.VariantDir(5), 0o755))
	require.NoError(t, os.WriteFile(layout.VariantPath(5, model.TierLow), []byte("x"), 0o644))
	// 空文件不算
	require.NoError(t, os.WriteFile(layout.VariantPath(5, model.TierHQ), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(layout.VariantDir(5), "ultra.m4a"), []byte("x"), 0o644))

	variants := gen.ScanExisting(5)
	require.Len(t, variants, 1)
	require.Equal(t, "64k", variants[model.TierLow].Bitrate)
}

func TestGenerateReportsConflictWhenFileLockHeld(t *testing.T) {
	layout := newTestLayout(t)
	src := writeSource(t, layout, "a.mp3")
	enc := &fakeEncoder{}
	gen := NewGenerator(enc, layout, nil)

	require.NoError(t, os.MkdirAll(layout.VariantDir(3), 0o755))
	other := flock.New(filepath.Join(layout.VariantDir(3), lockName))
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer other.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err = gen.Generate(ctx, 3, src)
	require.Error(t, err)
	require.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	require.Zero(t, enc.Calls())
}

// probingEncoder 在 fakeEncoder 之上返回固定的探测结果
type probingEncoder struct {
	fakeEncoder
	codec    string
	duration float32
	probeErr error
}

func (p *probingEncoder) AudioCodec(context.Context, string) (string, error) {
	return p.codec, p.probeErr
}

func (p *probingEncoder) Duration(context.Context, string) (float32, error) {
	return p.duration, p.probeErr
}

func TestGenerateRejectsUndecodableSource(t *testing.T) {
	layout := newTestLayout(t)
	src := writeSource(t, layout, "broken.mp3")
	enc := &probingEncoder{probeErr: errors.New("Invalid data found when processing input")}
	gen := NewGenerator(enc, layout, nil)

	variants, err := gen.Generate(context.Background(), 3, src)
	require.Empty(t, variants)
	require.Equal(t, apperr.KindInvalidRequest, apperr.KindOf(err))
	require.Equal(t, 0, enc.Calls())

	enc = &probingEncoder{codec: "mp3"}
	gen = NewGenerator(enc, layout, nil)
	_, err = gen.Generate(context.Background(), 3, src)
	require.Equal(t, apperr.KindInvalidRequest, apperr.KindOf(err))
	require.Equal(t, 0, enc.Calls())
}

func TestGenerateProbesBeforeEncoding(t *testing.T) {
	layout := newTestLayout(t)
	src := writeSource(t, layout, "ok.mp3")
	enc := &probingEncoder{codec: "mp3", duration: 180.5}
	gen := NewGenerator(enc, layout, nil)

	variants, err := gen.Generate(context.Background(), 4, src)
	require.NoError(t, err)
	require.Len(t, variants, len(model.QualityTiers()))
	require.Equal(t, len(model.QualityTiers()), enc.Calls())
}
