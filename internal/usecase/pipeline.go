package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/nomor/memclear/internal/domain"
)

// AppLister is the detector surface the pipeline uses.
type AppLister interface {
	List(ctx context.Context) []domain.AppRecord
	ListForceRefresh(ctx context.Context) []domain.AppRecord
}

// PipelineResult reports one detect, stop and recount cycle.
type PipelineResult struct {
	Detected  []domain.AppRecord
	Plan      domain.BatchPlan
	Batch     domain.BatchResult
	Remaining []domain.AppRecord
}

// StopPipeline detects running apps, force-stops the eligible ones and
// recounts with the post-stop windows.
type StopPipeline struct {
	detector   AppLister
	controller *ForceStopController
	filter     domain.Eligibility
	logger     *zap.Logger
}

// NewStopPipeline creates a StopPipeline.
func NewStopPipeline(detector AppLister, controller *ForceStopController, filter domain.Eligibility, logger *zap.Logger) *StopPipeline {
	return &StopPipeline{
		detector:   detector,
		controller: controller,
		filter:     filter,
		logger:     logger,
	}
}

// Run blocks until the batch finishes. It must not be called from the event loop.
// If only is non-empty, just those packages are considered.
func (p *StopPipeline) Run(ctx context.Context, only []string, fastMode bool, progress ProgressFunc) (*PipelineResult, error) {
	res := &PipelineResult{}

	if len(only) > 0 {
		res.Plan = NewBatchPlan(p.filter, only, fastMode)
	} else {
		res.Detected = p.detector.List(ctx)
		res.Plan = PlanFromRecords(p.filter, res.Detected, fastMode)
	}
	p.logger.Info("stop pipeline planned",
		zap.Int("detected", len(res.Detected)),
		zap.Int("planned", res.Plan.Len()))

	batch, err := p.controller.Run(ctx, res.Plan, progress)
	res.Batch = batch
	if err != nil {
		return res, err
	}

	res.Remaining = p.detector.ListForceRefresh(ctx)
	p.logger.Info("stop pipeline finished",
		zap.Int("stopped", len(batch.Stopped())),
		zap.Int("remaining", len(res.Remaining)))
	return res, nil
}
