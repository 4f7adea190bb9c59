package main

import (
	"context"

	"go.uber.org/zap"

	"narrowd/internal/analysis"
	"narrowd/internal/classify"
	"narrowd/internal/logging"
	"narrowd/internal/scan"
	"narrowd/internal/store"
)

// pipeline bundles the scan -> classify -> aggregate path shared by the
// classify, apply, status, and monitor commands.
type pipeline struct {
	scanner    *scan.Scanner
	classifier *classify.Classifier
	aggregator *analysis.Aggregator
	metrics    *store.CampaignStore // may be nil
}

func newPipeline(metrics *store.CampaignStore) *pipeline {
	return &pipeline{
		scanner:    scan.NewScanner(workspace, cfg.Scan.SurroundingLines, logging.For(logger, logging.CategoryScan)),
		classifier: classify.NewClassifier(logging.For(logger, logging.CategoryClassify)),
		aggregator: analysis.NewAggregator(logging.For(logger, logging.CategoryAnalysis)),
		metrics:    metrics,
	}
}

// classifyAll scans the workspace and classifies every occurrence.
func (p *pipeline) classifyAll(ctx context.Context) ([]scan.Context, []classify.Classification, error) {
	occs, err := p.scanner.Scan(ctx)
	if err != nil {
		return nil, nil, err
	}
	ctxs, err := p.scanner.BuildContexts(occs)
	if err != nil {
		return nil, nil, err
	}
	clss := make([]classify.Classification, len(ctxs))
	for i, c := range ctxs {
		clss[i] = p.classifier.Classify(c)
	}
	return ctxs, clss, nil
}

// CurrentReport satisfies monitor.ReportSource: a fresh scan, classification
// pass, and aggregation.
func (p *pipeline) CurrentReport(ctx context.Context) (*analysis.Report, error) {
	ctxs, clss, err := p.classifyAll(ctx)
	if err != nil {
		return nil, err
	}
	rate := 100.0
	if p.metrics != nil {
		if batches, err := p.metrics.RecentBatches(100); err == nil {
			rate = analysis.SuccessRate(batches)
		} else {
			logger.Warn("reading batch history failed", zap.Error(err))
		}
	}
	return p.aggregator.BuildReport(ctxs, clss, rate), nil
}
