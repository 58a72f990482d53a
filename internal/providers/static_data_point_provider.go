package providers

import (
	"context"
	"sync"
	"time"

	"pulseone/vpengine/internal/expression"
)

// StaticDataPointProvider serves readings held in memory. It backs the
// "static" data point source and tests.
type StaticDataPointProvider struct {
	mu       sync.RWMutex
	readings map[int64]Reading
	errs     map[int64]error
	calls    map[int64]int
}

var _ DataPointProvider = (*StaticDataPointProvider)(nil)

func NewStaticDataPointProvider() *StaticDataPointProvider {
	return &StaticDataPointProvider{
		readings: make(map[int64]Reading),
		errs:     make(map[int64]error),
		calls:    make(map[int64]int),
	}
}

func (p *StaticDataPointProvider) GetProviderType() string {
	return "static"
}

// Set stores a good-quality reading taken now.
func (p *StaticDataPointProvider) Set(dataPointID int64, v expression.Value) {
	p.SetReading(dataPointID, Reading{Value: v, Quality: QualityGood, Timestamp: time.Now().UTC()})
}

func (p *StaticDataPointProvider) SetReading(dataPointID int64, r Reading) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readings[dataPointID] = r
	delete(p.errs, dataPointID)
}

// Fail makes lookups of dataPointID return err.
func (p *StaticDataPointProvider) Fail(dataPointID int64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[dataPointID] = err
}

// Calls returns how many lookups of dataPointID were served.
func (p *StaticDataPointProvider) Calls(dataPointID int64) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.calls[dataPointID]
}

func (p *StaticDataPointProvider) CurrentValue(ctx context.Context, tenantID, dataPointID int64) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[dataPointID]++
	if err, ok := p.errs[dataPointID]; ok {
		return Reading{}, err
	}
	r, ok := p.readings[dataPointID]
	if !ok {
		return Reading{}, notFound(dataPointID)
	}
	if err := r.check(dataPointID, 0, time.Now()); err != nil {
		return Reading{}, err
	}
	return r, nil
}
