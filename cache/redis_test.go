package cache

import (
	"context"
	"testing"

	"undersounds/model"

	"github.com/stretchr/testify/require"
)

func TestInfoKey(t *testing.T) {
	require.Equal(t, "streaming:info:42", InfoKey(42))
}

func TestDecodeInfoDropsUnknownTiers(t *testing.T) {
	raw := []byte(`{"id":3,"title":"t","streamVariants":{"low":{"bitrate":"64k"},"ultra":{"bitrate":"999k"}}}`)
	info, err := decodeInfo(raw)
	require.NoError(t, err)
	require.Equal(t, int64(3), info.ID)
	require.Len(t, info.StreamVariants, 1)
	require.Contains(t, info.StreamVariants, model.TierLow)

	_, err = decodeInfo([]byte("{broken"))
	require.Error(t, err)
}

func TestNoopNeverHits(t *testing.T) {
	var c TrackInfoCache = Noop{}
	require.NoError(t, c.Set(context.Background(), &model.TrackInfo{ID: 1}))
	_, ok := c.Get(context.Background(), 1)
	require.False(t, ok)
}
