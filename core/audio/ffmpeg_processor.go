package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"undersounds/core/apperr"
	"undersounds/logger"
	"undersounds/model"
)

// FFmpegProcessor implements Encoder and Prober by shelling out to ffmpeg/ffprobe.
type FFmpegProcessor struct {
	ffmpegPath string
	timeout    time.Duration
}

var (
	_ Encoder = (*FFmpegProcessor)(nil)
	_ Prober  = (*FFmpegProcessor)(nil)
)

// NewFFmpegProcessor creates a new FFmpegProcessor. timeout <= 0 disables the per-encode limit.
func NewFFmpegProcessor(ffmpegPath string, timeout time.Duration) *FFmpegProcessor {
	return &FFmpegProcessor{ffmpegPath: ffmpegPath, timeout: timeout}
}

func (p *FFmpegProcessor) ffprobePath() string {
	return strings.Replace(p.ffmpegPath, "ffmpeg", "ffprobe", 1)
}

// buildEncodeArgs 构建单个档位的 FFmpeg 参数
func buildEncodeArgs(inputFile, outputFile string, policy model.TierPolicy) []string {
	return []string{
		"-y",
		"-nostdin",
		"-i", inputFile,
		"-vn", // 不处理封面等视频流
		"-c:a", policy.AudioCodec,
		"-b:a", policy.Bitrate,
		"-ac", "2",
		"-ar", "44100",
		"-map_metadata", "-1",
		"-movflags", "+faststart",
		"-f", "ipod", // 输出为 .part 临时文件，必须显式指定 m4a 容器
		outputFile,
	}
}

// Encode transcodes inputFile into one rendition at outputFile.
func (p *FFmpegProcessor) Encode(ctx context.Context, inputFile, outputFile string, policy model.TierPolicy) error {
	if fileInfo, err := os.Stat(inputFile); err != nil {
		return apperr.TransientIO(err, "输入文件不可访问 %s", inputFile)
	} else if fileInfo.Size() == 0 {
		return apperr.EncodeFailure(nil, "输入文件为空 %s", inputFile)
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return apperr.TransientIO(err, "failed to create output directory %s", filepath.Dir(outputFile))
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	args := buildEncodeArgs(inputFile, outputFile, policy)
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.Debug("执行FFmpeg命令",
		logger.String("path", p.ffmpegPath),
		logger.String("tier", string(policy.Tier)),
		logger.String("args", strings.Join(args, " ")))

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return apperr.EncodeFailure(err, "ffmpeg execution failed for %s (%s)\nFFmpeg Error: %s",
			inputFile, policy.Tier, tail(stderr.String(), 2048))
	}

	if info, err := os.Stat(outputFile); err != nil || info.Size() == 0 {
		return apperr.EncodeFailure(err, "ffmpeg produced no output for %s (%s)", inputFile, policy.Tier)
	}

	logger.Info("档位转码完成",
		logger.String("inputFile", inputFile),
		logger.String("tier", string(policy.Tier)),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}

// ffprobeOutput defines the structure for ffprobe JSON output.
type ffprobeOutput struct {
	Streams []struct {
		CodecName string `json:"codec_name"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (p *FFmpegProcessor) probe(ctx context.Context, inputFile string, args ...string) (*ffprobeOutput, error) {
	args = append([]string{"-v", "error"}, args...)
	args = append(args, "-of", "json", inputFile)

	cmd := exec.CommandContext(ctx, p.ffprobePath(), args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe execution failed for %s: %w\nFFprobe Error: %s", inputFile, err, stderr.String())
	}

	var probeData ffprobeOutput
	if err := json.Unmarshal(out.Bytes(), &probeData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ffprobe output for %s: %w\nFFprobe Output: %s", inputFile, err, out.String())
	}
	return &probeData, nil
}

// AudioCodec 获取音频文件的编码格式
func (p *FFmpegProcessor) AudioCodec(ctx context.Context, inputFile string) (string, error) {
	probeData, err := p.probe(ctx, inputFile, "-select_streams", "a:0", "-show_entries", "stream=codec_name")
	if err != nil {
		return "", err
	}
	if len(probeData.Streams) == 0 {
		return "", fmt.Errorf("no audio streams found in %s", inputFile)
	}
	return probeData.Streams[0].CodecName, nil
}

// Duration uses ffprobe to get the duration of an audio file in seconds.
func (p *FFmpegProcessor) Duration(ctx context.Context, inputFile string) (float32, error) {
	probeData, err := p.probe(ctx, inputFile, "-show_entries", "format=duration")
	if err != nil {
		return 0, err
	}
	return parseDuration(probeData.Format.Duration)
}

func parseDuration(raw string) (float32, error) {
	if raw == "" {
		return 0, fmt.Errorf("duration not found in ffprobe output")
	}
	duration, err := strconv.ParseFloat(raw, 32)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration string %q: %w", raw, err)
	}
	return float32(duration), nil
}

// tail keeps the last n bytes of ffmpeg's stderr, which holds the actual error.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
