package model

import (
	"fmt"
	"strconv"
	"strings"
)

// QualityTier 音质档位，按码率升序
type QualityTier string

const (
	TierLow    QualityTier = "low"
	TierMedium QualityTier = "medium"
	TierHigh   QualityTier = "high"
	TierHQ     QualityTier = "hq"
)

// TierPolicy 每个档位固定的编码策略
type TierPolicy struct {
	Tier        QualityTier
	Bitrate     string // ffmpeg -b:a 参数，如 "64k"
	AudioCodec  string
	Description string
}

// BitsPerSecond converts "128k" to 128000.
func (p TierPolicy) BitsPerSecond() int {
	return ParseBitrate(p.Bitrate)
}

// qualityTiers 顺序即码率升序
var qualityTiers = []TierPolicy{
	{Tier: TierLow, Bitrate: "64k", AudioCodec: "aac", Description: "Slow connection (2G/3G)"},
	{Tier: TierMedium, Bitrate: "128k", AudioCodec: "aac", Description: "Standard connection (4G)"},
	{Tier: TierHigh, Bitrate: "192k", AudioCodec: "aac", Description: "Good connection (4G LTE/WiFi)"},
	{Tier: TierHQ, Bitrate: "320k", AudioCodec: "aac", Description: "High-speed WiFi"},
}

// QualityTiers returns a copy of the tier table in ascending bitrate order.
func QualityTiers() []TierPolicy {
	out := make([]TierPolicy, len(qualityTiers))
	copy(out, qualityTiers)
	return out
}

// PolicyFor looks up the fixed policy of a tier.
func PolicyFor(tier QualityTier) (TierPolicy, bool) {
	for _, p := range qualityTiers {
		if p.Tier == tier {
			return p, true
		}
	}
	return TierPolicy{}, false
}

// ParseQualityTier validates a tier name from user input.
func ParseQualityTier(s string) (QualityTier, error) {
	tier := QualityTier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := PolicyFor(tier); !ok {
		return "", fmt.Errorf("unsupported quality tier %q", s)
	}
	return tier, nil
}

// Valid reports whether t belongs to the fixed tier set.
func (t QualityTier) Valid() bool {
	_, ok := PolicyFor(t)
	return ok
}

// Rank 返回档位在升序表中的位置，未知档位返回 -1
func (t QualityTier) Rank() int {
	for i, p := range qualityTiers {
		if p.Tier == t {
			return i
		}
	}
	return -1
}

// ParseBitrate parses ffmpeg style bitrates ("64k", "1M", "96000").
func ParseBitrate(s string) int {
	s = strings.TrimSpace(strings.ToLower(s))
	mult := 1
	switch {
	case strings.HasSuffix(s, "k"):
		mult = 1000
		s = strings.TrimSuffix(s, "k")
	case strings.HasSuffix(s, "m"):
		mult = 1000 * 1000
		s = strings.TrimSuffix(s, "m")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n * mult
}
