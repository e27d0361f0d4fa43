package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// VariantInfo 单个档位的转码产物元数据
type VariantInfo struct {
	Tier           QualityTier `json:"tier"`
	Bitrate        string      `json:"bitrate"`
	URL            string      `json:"url"` // 相对路径，如 /assets/music/variants/12/low.m4a
	FileSize       int64       `json:"fileSize"`
	Description    string      `json:"description"`
	CreatedAt      time.Time   `json:"createdAt"`
	LastAccessedAt *time.Time  `json:"lastAccessedAt,omitempty"`
}

// StreamVariants maps tier to rendition metadata. Stored as a JSON column.
type StreamVariants map[QualityTier]VariantInfo

// Scan 实现 sql.Scanner 接口，丢弃不属于档位表的键
func (s *StreamVariants) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("unsupported stream_variants column type %T", value)
	}
	if len(bytes) == 0 || string(bytes) == "null" {
		*s = nil
		return nil
	}
	raw := make(StreamVariants)
	if err := json.Unmarshal(bytes, &raw); err != nil {
		return err
	}
	*s = raw.Sanitized()
	return nil
}

// Value 实现 driver.Valuer 接口
func (s StreamVariants) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	data, err := json.Marshal(s.Sanitized())
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Sanitized returns a copy restricted to known tiers.
func (s StreamVariants) Sanitized() StreamVariants {
	out := make(StreamVariants, len(s))
	for tier, info := range s {
		if !tier.Valid() {
			continue
		}
		info.Tier = tier
		out[tier] = info
	}
	return out
}

// Ordered returns the variants in ascending bitrate order.
func (s StreamVariants) Ordered() []VariantInfo {
	out := make([]VariantInfo, 0, len(s))
	for _, p := range qualityTiers {
		if info, ok := s[p.Tier]; ok {
			info.Tier = p.Tier
			out = append(out, info)
		}
	}
	return out
}

// Track 本模块关心的曲目字段，其余目录数据由外部服务维护
type Track struct {
	ID             int64          `json:"id" gorm:"primaryKey"`
	Title          string         `json:"title" gorm:"size:255;not null"`
	Duration       float32        `json:"duration"`
	URL            string         `json:"url" gorm:"size:767"` // 本地 /assets/music/<file> 或远端对象 URL
	IsArchived     bool           `json:"isArchived" gorm:"default:false;index"`
	LastAccessed   *time.Time     `json:"lastAccessed,omitempty" gorm:"index"`
	StreamVariants StreamVariants `json:"streamVariants" gorm:"type:json"`
	BinaryData     []byte         `json:"-" gorm:"type:longblob"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// TableName 指定表名
func (Track) TableName() string {
	return "tracks"
}

// TrackInfo info 接口返回的曲目视图，URL 已解析为绝对地址
type TrackInfo struct {
	ID             int64          `json:"id"`
	Title          string         `json:"title"`
	Duration       float32        `json:"duration"`
	OriginalURL    string         `json:"originalUrl"`
	IsArchived     bool           `json:"isArchived"`
	StreamVariants StreamVariants `json:"streamVariants"`
}
