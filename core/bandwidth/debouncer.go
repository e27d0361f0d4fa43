package bandwidth

import (
	"sync"
	"time"

	"undersounds/model"
)

// DefaultDebounce 档位切换前的等待时间
const DefaultDebounce = 3 * time.Second

// Debouncer 播放层的滞后控制：窗口内只应用最后一次推荐
type Debouncer struct {
	delay     time.Duration
	available func(model.QualityTier) bool
	apply     func(model.QualityTier)

	mu      sync.Mutex
	timer   *time.Timer
	seq     uint64
	applied model.QualityTier
}

// NewDebouncer creates a Debouncer starting at initial. available may be nil (all tiers available).
func NewDebouncer(delay time.Duration, initial model.QualityTier, available func(model.QualityTier) bool, apply func(model.QualityTier)) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	if available == nil {
		available = func(model.QualityTier) bool { return true }
	}
	return &Debouncer{delay: delay, available: available, apply: apply, applied: initial}
}

// Recommend 提交新推荐并重置计时器
func (d *Debouncer) Recommend(tier model.QualityTier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.seq++
	seq := d.seq
	d.timer = time.AfterFunc(d.delay, func() { d.fire(seq, tier) })
}

func (d *Debouncer) fire(seq uint64, tier model.QualityTier) {
	d.mu.Lock()
	if seq != d.seq || tier == d.applied || !d.available(tier) {
		d.mu.Unlock()
		return
	}
	d.applied = tier
	d.mu.Unlock()

	if d.apply != nil {
		d.apply(tier)
	}
}

// Applied returns the tier currently in effect.
func (d *Debouncer) Applied() model.QualityTier {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.applied
}

// Stop 取消挂起的推荐
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
