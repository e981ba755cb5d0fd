package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/sifan077/ClickURL/internal/app/repository"
	"github.com/sifan077/ClickURL/internal/app/shortcode"
	"github.com/sifan077/ClickURL/internal/infra/prometheus"
	"go.uber.org/zap"
)

const (
	bloomCapacity  = 1_000_000
	bloomFalseRate = 0.001
)

// CodeAllocator hands out short codes that are not yet taken.
//
// Codes known to this process are tracked in a bloom filter so candidates
// that were already issued are skipped without a round trip. A negative from
// the filter is confirmed against the registry, and the unique index on
// insert stays the final arbiter.
type CodeAllocator struct {
	repo     repository.LinkRepository
	length   int
	generate func(length int) (string, error)
	logger   *zap.Logger

	mu     sync.Mutex
	filter *bloom.BloomFilter
}

// NewCodeAllocator returns an allocator producing codes of the given length.
func NewCodeAllocator(repo repository.LinkRepository, length int, logger *zap.Logger) *CodeAllocator {
	if length <= 0 {
		length = shortcode.DefaultLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CodeAllocator{
		repo:     repo,
		length:   length,
		generate: shortcode.Generate,
		logger:   logger,
		filter:   bloom.NewWithEstimates(bloomCapacity, bloomFalseRate),
	}
}

// Warm loads every existing code into the filter.
func (a *CodeAllocator) Warm(ctx context.Context) error {
	codes, err := a.repo.ListCodes(ctx)
	if err != nil {
		return fmt.Errorf("warm code filter: %w", err)
	}

	a.mu.Lock()
	for _, code := range codes {
		a.filter.AddString(code)
	}
	a.mu.Unlock()

	a.logger.Info("code filter warmed", zap.Int("codes", len(codes)))
	return nil
}

// Remember marks code as taken.
func (a *CodeAllocator) Remember(code string) {
	a.mu.Lock()
	a.filter.AddString(code)
	a.mu.Unlock()
}

func (a *CodeAllocator) mayExist(code string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.filter.TestString(code)
}

// Next generates candidates until one is unused in the registry. It only
// stops early when ctx is done or storage fails.
func (a *CodeAllocator) Next(ctx context.Context) (string, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		code, err := a.generate(a.length)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		if a.mayExist(code) {
			continue
		}

		exists, err := a.repo.CodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check code: %w", err)
		}
		if exists {
			a.Remember(code)
			continue
		}

		prometheus.CodeAllocationAttempts.Observe(float64(attempt))
		if attempt > 1 {
			a.logger.Debug("code collision resolved", zap.Int("attempts", attempt))
		}
		return code, nil
	}
}
