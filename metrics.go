package cytogo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    trainCounter     prometheus.Counter
//	    predictHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordTrain(categories, failed int, duration time.Duration) {
//	    p.trainCounter.Inc()
//	    // ... record failure count, duration, etc.
//	}
type MetricsCollector interface {
	// RecordTrain is called after each training or retraining run.
	// categories is the number of categories attempted, failed is the
	// number whose trainer failed, duration is the total time taken.
	RecordTrain(categories, failed int, duration time.Duration)

	// RecordAlign is called after each query alignment.
	// samples is the number of query samples, duration is the time taken,
	// err is nil if successful.
	RecordAlign(samples int, duration time.Duration, err error)

	// RecordPredict is called after each prediction pass.
	// samples is the number of query samples scored, duration is the time
	// taken, err is nil if successful.
	RecordPredict(samples int, duration time.Duration, err error)

	// RecordSave is called after each model save.
	RecordSave(duration time.Duration, err error)

	// RecordLoad is called after each model load.
	RecordLoad(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordTrain(int, int, time.Duration)     {}
func (NoopMetricsCollector) RecordAlign(int, time.Duration, error)   {}
func (NoopMetricsCollector) RecordPredict(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordSave(time.Duration, error)         {}
func (NoopMetricsCollector) RecordLoad(time.Duration, error)         {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	TrainCount        atomic.Int64
	TrainCategories   atomic.Int64
	TrainFailed       atomic.Int64
	TrainTotalNanos   atomic.Int64
	AlignCount        atomic.Int64
	AlignSamples      atomic.Int64
	AlignErrors       atomic.Int64
	AlignTotalNanos   atomic.Int64
	PredictCount      atomic.Int64
	PredictSamples    atomic.Int64
	PredictErrors     atomic.Int64
	PredictTotalNanos atomic.Int64
	SaveCount         atomic.Int64
	SaveErrors        atomic.Int64
	LoadCount         atomic.Int64
	LoadErrors        atomic.Int64
}

// RecordTrain implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTrain(categories, failed int, duration time.Duration) {
	b.TrainCount.Add(1)
	b.TrainCategories.Add(int64(categories))
	b.TrainFailed.Add(int64(failed))
	b.TrainTotalNanos.Add(duration.Nanoseconds())
}

// RecordAlign implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAlign(samples int, duration time.Duration, err error) {
	b.AlignCount.Add(1)
	b.AlignSamples.Add(int64(samples))
	b.AlignTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.AlignErrors.Add(1)
	}
}

// RecordPredict implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPredict(samples int, duration time.Duration, err error) {
	b.PredictCount.Add(1)
	b.PredictSamples.Add(int64(samples))
	b.PredictTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.PredictErrors.Add(1)
	}
}

// RecordSave implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSave(duration time.Duration, err error) {
	b.SaveCount.Add(1)
	if err != nil {
		b.SaveErrors.Add(1)
	}
}

// RecordLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLoad(duration time.Duration, err error) {
	b.LoadCount.Add(1)
	if err != nil {
		b.LoadErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		TrainCount:      b.TrainCount.Load(),
		TrainCategories: b.TrainCategories.Load(),
		TrainFailed:     b.TrainFailed.Load(),
		TrainAvgNanos:   b.getAvgTrainNanos(),
		AlignCount:      b.AlignCount.Load(),
		AlignSamples:    b.AlignSamples.Load(),
		AlignErrors:     b.AlignErrors.Load(),
		AlignAvgNanos:   b.getAvgAlignNanos(),
		PredictCount:    b.PredictCount.Load(),
		PredictSamples:  b.PredictSamples.Load(),
		PredictErrors:   b.PredictErrors.Load(),
		PredictAvgNanos: b.getAvgPredictNanos(),
		SaveCount:       b.SaveCount.Load(),
		SaveErrors:      b.SaveErrors.Load(),
		LoadCount:       b.LoadCount.Load(),
		LoadErrors:      b.LoadErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgTrainNanos() int64 {
	count := b.TrainCount.Load()
	if count == 0 {
		return 0
	}
	return b.TrainTotalNanos.Load() / count
}

func (b *BasicMetricsCollector) getAvgAlignNanos() int64 {
	count := b.AlignCount.Load()
	if count == 0 {
		return 0
	}
	return b.AlignTotalNanos.Load() / count
}

func (b *BasicMetricsCollector) getAvgPredictNanos() int64 {
	count := b.PredictCount.Load()
	if count == 0 {
		return 0
	}
	return b.PredictTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	TrainCount      int64
	TrainCategories int64
	TrainFailed     int64
	TrainAvgNanos   int64
	AlignCount      int64
	AlignSamples    int64
	AlignErrors     int64
	AlignAvgNanos   int64
	PredictCount    int64
	PredictSamples  int64
	PredictErrors   int64
	PredictAvgNanos int64
	SaveCount       int64
	SaveErrors      int64
	LoadCount       int64
	LoadErrors      int64
}
