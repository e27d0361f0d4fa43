package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"undersounds/core/apperr"
	"undersounds/model"
)

// MemoryTrackRepository keeps tracks in process memory. Used by the CLI dry runs and tests.
type MemoryTrackRepository struct {
	mu     sync.RWMutex
	tracks map[int64]*model.Track

	// FailNext 非空时下一次写操作返回该错误，用于模拟持久化失败
	FailNext error
}

var _ TrackRepository = (*MemoryTrackRepository)(nil)

// NewMemoryTrackRepository creates a repository seeded with tracks.
func NewMemoryTrackRepository(tracks ...*model.Track) *MemoryTrackRepository {
	r := &MemoryTrackRepository{tracks: make(map[int64]*model.Track)}
	for _, t := range tracks {
		r.Put(t)
	}
	return r
}

// Put inserts or replaces a track.
func (r *MemoryTrackRepository) Put(t *model.Track) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := cloneTrack(t)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	r.tracks[t.ID] = cp
}

func (r *MemoryTrackRepository) GetTrackByID(_ context.Context, id int64) (*model.Track, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tracks[id]
	if !ok {
		return nil, apperr.NotFound("track %d not found", id)
	}
	return cloneTrack(t), nil
}

func (r *MemoryTrackRepository) UpdateStreamVariants(_ context.Context, id int64, variants model.StreamVariants) error {
	return r.update(id, func(t *model.Track) {
		t.StreamVariants = cloneVariants(variants.Sanitized())
	})
}

func (r *MemoryTrackRepository) UpdateArchiveState(_ context.Context, id int64, state ArchiveState) error {
	return r.update(id, func(t *model.Track) {
		t.URL = state.URL
		t.IsArchived = state.IsArchived
		if state.ClearBinaryData {
			t.BinaryData = nil
		}
	})
}

func (r *MemoryTrackRepository) TouchLastAccessed(_ context.Context, id int64, at time.Time) error {
	return r.update(id, func(t *model.Track) {
		at := at
		t.LastAccessed = &at
	})
}

func (r *MemoryTrackRepository) ListTrackIDs(_ context.Context) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.tracks))
	for id := range r.tracks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *MemoryTrackRepository) FindBySourceName(_ context.Context, fileName string) (*model.Track, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *model.Track
	for _, t := range r.tracks {
		if !strings.HasSuffix(t.URL, "/"+fileName) {
			continue
		}
		if found == nil || t.ID < found.ID {
			found = t
		}
	}
	if found == nil {
		return nil, apperr.NotFound("no track for file %s", fileName)
	}
	return cloneTrack(found), nil
}

func (r *MemoryTrackRepository) ListInactive(_ context.Context, before time.Time) ([]*model.Track, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Track
	for _, t := range r.tracks {
		if t.IsArchived {
			continue
		}
		seen := t.CreatedAt
		if t.LastAccessed != nil {
			seen = *t.LastAccessed
		}
		if seen.Before(before) {
			out = append(out, cloneTrack(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryTrackRepository) update(id int64, fn func(t *model.Track)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.FailNext; err != nil {
		r.FailNext = nil
		return err
	}
	t, ok := r.tracks[id]
	if !ok {
		return apperr.NotFound("track %d not found", id)
	}
	fn(t)
	t.UpdatedAt = time.Now()
	return nil
}

func cloneTrack(t *model.Track) *model.Track {
	cp := *t
	cp.StreamVariants = cloneVariants(t.StreamVariants)
	if t.LastAccessed != nil {
		at := *t.LastAccessed
		cp.LastAccessed = &at
	}
	if t.BinaryData != nil {
		cp.BinaryData = append([]byte(nil), t.BinaryData...)
	}
	return &cp
}

func cloneVariants(v model.StreamVariants) model.StreamVariants {
	if v == nil {
		return nil
	}
	out := make(model.StreamVariants, len(v))
	for k, info := range v {
		out[k] = info
	}
	return out
}
