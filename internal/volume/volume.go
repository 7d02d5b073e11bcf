// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package volume implements volume extraction: load a STEP file through a
// geometry kernel, sum the volume of every solid with positive volume, and
// report the total in cubic centimetres or a classified error.
package volume

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pdiddy/step-volume/internal/kernel"
	"github.com/pdiddy/step-volume/pkg/types"
)

// documentPrefix names every kernel document scope; a UUID makes it unique.
const documentPrefix = "VolumeExtraction"

// mm3PerCm3 converts the kernel's cubic millimetres to cubic centimetres.
const mm3PerCm3 = 1000.0

// Service extracts volumes through one kernel.
type Service struct {
	kernel  kernel.Kernel
	logger  *zap.Logger
	timeout time.Duration
	newName func() string
}

// Option configures a Service.
type Option func(*Service)

// WithTimeout bounds each extraction. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a Service backed by k.
func NewService(k kernel.Kernel, opts ...Option) *Service {
	s := &Service{
		kernel: k,
		logger: zap.NewNop(),
		newName: func() string {
			return documentPrefix + "-" + uuid.NewString()
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Extract loads path into a fresh kernel document and sums its solid
// volumes. Exactly one of the returned values is meaningful: a result with
// Success set, or a non-nil *ExtractionError. The document is closed on
// every path, including kernel panics.
func (s *Service) Extract(ctx context.Context, path string) (result types.ExtractionResult, xerr *ExtractionError) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("extraction panicked", zap.String("path", path), zap.Any("panic", r))
			result, xerr = types.ExtractionResult{}, internalFailure(fmt.Errorf("%v", r))
		}
	}()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	log := s.logger.With(zap.String("kernel", s.kernel.Name()), zap.String("path", path))

	if err := s.kernel.Available(ctx); err != nil {
		log.Warn("kernel unavailable", zap.Error(err))
		return types.ExtractionResult{}, kernelUnavailable(err)
	}

	name := s.newName()
	doc, err := s.kernel.NewDocument(ctx, name)
	if err != nil {
		return types.ExtractionResult{}, internalFailure(fmt.Errorf("creating document %s: %w", name, err))
	}
	defer func() {
		if err := doc.Close(); err != nil {
			log.Warn("closing document", zap.String("document", name), zap.Error(err))
		}
	}()

	if err := doc.Import(ctx, path); err != nil {
		log.Info("import failed", zap.Error(err))
		if errors.Is(err, kernel.ErrUnavailable) {
			return types.ExtractionResult{}, kernelUnavailable(err)
		}
		return types.ExtractionResult{}, importFailed(err)
	}

	total, count := s.aggregate(log, doc.Objects())
	if total <= 0 {
		return types.ExtractionResult{}, noSolidGeometry()
	}

	log.Debug("extraction complete", zap.Float64("volume_mm3", total), zap.Int("solids", count))
	return types.ExtractionResult{
		Volume:      total / mm3PerCm3,
		Units:       types.UnitsCubicCentimeters,
		ObjectCount: count,
		Success:     true,
	}, nil
}

// aggregate sums the volume of objects whose shape has a positive, finite
// volume. Everything else is skipped.
func (s *Service) aggregate(log *zap.Logger, objects []kernel.Object) (float64, int) {
	var total float64
	var count int
	for _, obj := range objects {
		v, ok := kernel.HasVolume(obj)
		if !ok || !(v > 0) || math.IsInf(v, 1) {
			log.Debug("skipping object", zap.String("object", obj.Label()), zap.Bool("has_volume", ok), zap.Float64("volume", v))
			continue
		}
		total += v
		count++
	}
	return total, count
}
