package service

import (
	"context"
	"math"
	"time"

	"github.com/timmy/dataexec/internal/datasource"
	"github.com/timmy/dataexec/internal/domain"
	"github.com/timmy/dataexec/internal/logger"
)

// Baselines for dimensions a listing cannot measure.
const (
	baselineAccuracy    = 85.0
	baselineConsistency = 80.0
	baselineTimeliness  = 95.0
)

// QualityAssessor scores a source from its listing.
type QualityAssessor struct {
	sources    *SourceOpener
	maxEntries int
}

// NewQualityAssessor creates the quality_assessment task.
// Parameters:
//   - sources: opens connectors for job paths.
//   - maxEntries: upper bound on entries sampled per job.
//
// Returns:
//   - *QualityAssessor: task scoring sampled entries.
func NewQualityAssessor(sources *SourceOpener, maxEntries int) *QualityAssessor {
	if maxEntries <= 0 {
		maxEntries = 10
	}
	return &QualityAssessor{sources: sources, maxEntries: maxEntries}
}

func (q *QualityAssessor) Run(ctx context.Context, spec *domain.JobSpec) (domain.JSONMap, error) {
	ds, err := q.sources.Open(ctx, spec.DataSourcePath, spec.DataSourceType)
	if err != nil {
		return nil, err
	}
	defer q.sources.Close(ctx, ds)

	entries := ds.ListEntries(ctx, spec.DataSourcePath)
	m := q.measure(ctx, ds, entries)
	score := overallScore(m)

	logger.With(logger.Fields{logger.FieldCount: len(entries)}).Info(ctx, "quality assessed: %.2f/100", score)
	return domain.JSONMap{
		"source_path":          spec.DataSourcePath,
		"source_type":          ds.SourceType(),
		"entries_assessed":     min(len(entries), q.maxEntries),
		"quality_metrics":      m,
		"overall_score":        score,
		"quality_level":        qualityLevel(score),
		"recommendations":      recommendations(m, len(entries)),
		"assessment_status":    "completed",
		"assessment_timestamp": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// measure derives completeness, validity and uniqueness from the first
// entries of a listing.
func (q *QualityAssessor) measure(ctx context.Context, ds datasource.DataSource, entries []string) domain.JSONMap {
	m := domain.JSONMap{
		"accuracy":    baselineAccuracy,
		"consistency": baselineConsistency,
		"timeliness":  baselineTimeliness,
	}
	if len(entries) == 0 {
		m["completeness"] = 0.0
		m["validity"] = 0.0
		m["uniqueness"] = 0.0
		return m
	}

	sampled := entries
	if len(sampled) > q.maxEntries {
		sampled = sampled[:q.maxEntries]
	}
	nonEmpty, valid := 0, 0
	for _, id := range sampled {
		if ds.EntrySize(ctx, id) > 0 {
			nonEmpty++
		}
		if ds.SourceType() == datasource.TypeDatabase || fileTypeByName(id) != FileTypeUnknown {
			valid++
		}
	}
	names := make(map[string]struct{}, len(entries))
	for _, id := range entries {
		names[entryName(id)] = struct{}{}
	}

	m["completeness"] = percent(nonEmpty, len(sampled))
	m["validity"] = percent(valid, len(sampled))
	m["uniqueness"] = percent(len(names), len(entries))
	return m
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(n) / float64(total) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func metric(m domain.JSONMap, key string) float64 {
	v, _ := m[key].(float64)
	return v
}

var qualityDimensions = []string{"completeness", "accuracy", "consistency", "timeliness", "validity", "uniqueness"}

func overallScore(m domain.JSONMap) float64 {
	var sum float64
	for _, k := range qualityDimensions {
		sum += metric(m, k)
	}
	return round2(sum / float64(len(qualityDimensions)))
}

func qualityLevel(score float64) string {
	switch {
	case score >= 90:
		return "Excellent"
	case score >= 80:
		return "Good"
	case score >= 70:
		return "Fair"
	case score >= 60:
		return "Poor"
	default:
		return "Critical"
	}
}

func recommendations(m domain.JSONMap, entries int) []string {
	var out []string
	if entries == 0 {
		out = append(out, "No entries found at source - verify the path and credentials")
	}
	if metric(m, "completeness") < 85 {
		out = append(out, "Improve data completeness - check for missing values")
	}
	if metric(m, "accuracy") < 85 {
		out = append(out, "Enhance data accuracy - validate data formats and ranges")
	}
	if metric(m, "consistency") < 85 {
		out = append(out, "Improve data consistency - standardize formats and values")
	}
	if metric(m, "uniqueness") < 90 {
		out = append(out, "Address data uniqueness issues - check for duplicates")
	}
	if len(out) == 0 {
		out = append(out, "Data quality is good - maintain current standards")
	}
	return out
}
