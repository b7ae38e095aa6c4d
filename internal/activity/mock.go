package activity

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"copyfund/internal/models"
)

// MockDetector simulates trader activity: with Probability it reports one
// trade whose ratio is uniform in [0, MaxRatio).
type MockDetector struct {
	Probability float64
	MaxRatio    float64
	Now         func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

func NewMockDetector(probability, maxRatio float64, seed int64) *MockDetector {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &MockDetector{
		Probability: probability,
		MaxRatio:    maxRatio,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

func (d *MockDetector) Name() string { return "mock" }

func (d *MockDetector) Detect(ctx context.Context, wallet, since string) (Detection, error) {
	if err := ctx.Err(); err != nil {
		return Detection{}, err
	}
	d.mu.Lock()
	if d.rng == nil {
		d.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	hit := d.rng.Float64() < d.Probability
	ratio := d.rng.Float64() * clampRatio(d.MaxRatio)
	sell := d.rng.Intn(2) == 1
	d.mu.Unlock()

	if !hit {
		return Detection{Cursor: since}, nil
	}
	direction := models.DirectionBuy
	if sell {
		direction = models.DirectionSell
	}
	now := time.Now().UTC()
	if d.Now != nil {
		now = d.Now().UTC()
	}
	sig := "mock-" + uuid.NewString()
	return Detection{
		Trades: []Trade{{
			Wallet:    wallet,
			Signature: sig,
			Direction: direction,
			Ratio:     decimal.NewFromFloat(ratio).Round(8),
			At:        now,
		}},
		Cursor: sig,
	}, nil
}

func clampRatio(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
