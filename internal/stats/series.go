package stats

import (
	"math"

	"prunenet/internal/model"
)

type PlotPoint struct {
	Step     int     `json:"step"`
	Value    float64 `json:"value"`
	Accuracy float64 `json:"accuracy,omitempty"`
}

// BucketRunningError averages the running error of consecutive metrics in
// buckets of size points, and the running accuracy alongside it. The point
// step is the last step of its bucket.
func BucketRunningError(metrics []model.StepMetrics, size int) []PlotPoint {
	if size <= 0 {
		size = 1
	}
	points := make([]PlotPoint, 0, len(metrics)/size+1)
	for start := 0; start < len(metrics); start += size {
		end := start + size
		if end > len(metrics) {
			end = len(metrics)
		}
		values := make([]float64, 0, end-start)
		accuracy := make([]float64, 0, end-start)
		for _, m := range metrics[start:end] {
			values = append(values, m.RunningError)
			accuracy = append(accuracy, m.RunningAccuracy)
		}
		avg, _ := avgStd(values)
		acc, _ := avgStd(accuracy)
		points = append(points, PlotPoint{Step: metrics[end-1].Step, Value: avg, Accuracy: acc})
	}
	return points
}

// LossSummary reports mean and standard deviation of per-step loss.
type LossSummary struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

func SummarizeLoss(metrics []model.StepMetrics) LossSummary {
	if len(metrics) == 0 {
		return LossSummary{}
	}
	values := make([]float64, len(metrics))
	for i, m := range metrics {
		values[i] = m.Loss
	}
	mean, std := avgStd(values)
	return LossSummary{Mean: mean, Std: std, Min: minFloat(values), Max: maxFloat(values)}
}

func avgStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

func maxFloat(values []float64) float64 {
	best := values[0]
	for _, v := range values[1:] {
		if v > best {
			best = v
		}
	}
	return best
}

func minFloat(values []float64) float64 {
	best := values[0]
	for _, v := range values[1:] {
		if v < best {
			best = v
		}
	}
	return best
}
