// Package bandwidth 客户端带宽估算：定时下载探测数据，按滑动窗口均值选择音质档位。
package bandwidth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"undersounds/logger"
	"undersounds/model"
)

const (
	// DefaultProbeSize 探测下载大小
	DefaultProbeSize = 512 * 1024
	// WindowSize 滑动窗口保留的样本数
	WindowSize = 10
	// DefaultMbps 没有样本时的假定带宽
	DefaultMbps = 2.0
	// DefaultInterval 持续监测的默认间隔
	DefaultInterval = 15 * time.Second
	// InitialTier 首次测量前的档位
	InitialTier = model.TierMedium
)

// TierFor 带宽（Mbps）到档位的映射
func TierFor(mbps float64) model.QualityTier {
	switch {
	case mbps < 0.5:
		return model.TierLow
	case mbps < 1.5:
		return model.TierMedium
	case mbps < 3:
		return model.TierHigh
	default:
		return model.TierHQ
	}
}

// Subscriber 档位变化回调
type Subscriber func(tier model.QualityTier, mbps float64)

// Estimator measures throughput against the bandwidth probe endpoint.
type Estimator struct {
	client   *http.Client
	probeURL string
	now      func() time.Time

	mu      sync.Mutex
	samples []float64
	current model.QualityTier
	subs    map[int]Subscriber
	nextSub int

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEstimator creates an estimator probing baseURL + "/streaming/bandwidth-test".
func NewEstimator(baseURL string, client *http.Client) *Estimator {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Estimator{
		client:   client,
		probeURL: fmt.Sprintf("%s/streaming/bandwidth-test?size=%d", strings.TrimRight(baseURL, "/"), DefaultProbeSize),
		now:      time.Now,
		current:  InitialTier,
		subs:     make(map[int]Subscriber),
	}
}

// Measure 执行一次探测并返回窗口均值；传输失败被吸收，返回当前均值
func (e *Estimator) Measure(ctx context.Context) float64 {
	n, elapsed, err := e.probe(ctx)
	if err != nil {
		logger.Warn("带宽探测失败", logger.String("url", e.probeURL), logger.ErrorField(err))
		return e.Average()
	}
	seconds := elapsed.Seconds()
	if seconds <= 0 {
		return e.Average()
	}

	mbps := float64(n) * 8 / (seconds * 1024 * 1024)
	e.mu.Lock()
	e.samples = append(e.samples, mbps)
	if len(e.samples) > WindowSize {
		e.samples = e.samples[len(e.samples)-WindowSize:]
	}
	e.mu.Unlock()

	logger.Debug("带宽测量",
		logger.Float64("mbps", mbps),
		logger.Int64("bytes", n),
		logger.Duration("elapsed", elapsed))
	return e.Average()
}

func (e *Estimator) probe(ctx context.Context) (int64, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.probeURL, nil)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("Pragma", "no-cache")

	start := e.now()
	resp, err := e.client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("probe failed with status %d", resp.StatusCode)
	}
	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return 0, 0, err
	}
	return n, e.now().Sub(start), nil
}

// Average 窗口均值，无样本时为 DefaultMbps
func (e *Estimator) Average() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.averageLocked()
}

func (e *Estimator) averageLocked() float64 {
	if len(e.samples) == 0 {
		return DefaultMbps
	}
	var sum float64
	for _, s := range e.samples {
		sum += s
	}
	return sum / float64(len(e.samples))
}

// SelectTier 按带宽选择档位，变化时同步通知全部订阅者
func (e *Estimator) SelectTier(mbps float64) model.QualityTier {
	tier := TierFor(mbps)

	e.mu.Lock()
	changed := tier != e.current
	e.current = tier
	var subs []Subscriber
	if changed {
		subs = make([]Subscriber, 0, len(e.subs))
		for _, fn := range e.subs {
			subs = append(subs, fn)
		}
	}
	e.mu.Unlock()

	if changed {
		logger.Info("音质档位变化", logger.String("tier", string(tier)), logger.Float64("mbps", mbps))
		for _, fn := range subs {
			notify(fn, tier, mbps)
		}
	}
	return tier
}

func notify(fn Subscriber, tier model.QualityTier, mbps float64) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("档位订阅者 panic", logger.Any("panic", r))
		}
	}()
	fn(tier, mbps)
}

// Current returns the last selected tier.
func (e *Estimator) Current() model.QualityTier {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Subscribe 注册回调，返回取消函数
func (e *Estimator) Subscribe(fn Subscriber) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextSub++
	id := e.nextSub
	e.subs[id] = fn
	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// Start 立即测量一次，之后按 interval 周期测量；已在运行时只记录警告
func (e *Estimator) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.running {
		logger.Warn("带宽监测已在运行")
		return
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.running = true

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.SelectTier(e.Measure(ctx))

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.SelectTier(e.Measure(ctx))
			}
		}
	}()
	logger.Info("带宽监测启动", logger.Duration("interval", interval))
}

// Stop 停止监测；未运行时无效
func (e *Estimator) Stop() {
	e.runMu.Lock()
	if !e.running {
		e.runMu.Unlock()
		return
	}
	e.cancel()
	e.running = false
	e.runMu.Unlock()

	e.wg.Wait()
	logger.Info("带宽监测停止")
}

// Running reports whether periodic monitoring is active.
func (e *Estimator) Running() bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.running
}

// DebugInfo 调试快照
type DebugInfo struct {
	CurrentTier model.QualityTier `json:"currentTier"`
	AverageMbps float64           `json:"averageMbps"`
	Samples     []float64         `json:"samples"`
	Subscribers int               `json:"subscribers"`
	Monitoring  bool              `json:"monitoring"`
}

func (e *Estimator) DebugInfo() DebugInfo {
	monitoring := e.Running()
	e.mu.Lock()
	defer e.mu.Unlock()
	return DebugInfo{
		CurrentTier: e.current,
		AverageMbps: e.averageLocked(),
		Samples:     append([]float64(nil), e.samples...),
		Subscribers: len(e.subs),
		Monitoring:  monitoring,
	}
}

// Reset 清空样本并回到初始档位，不通知订阅者
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.samples = nil
	e.current = InitialTier
}
