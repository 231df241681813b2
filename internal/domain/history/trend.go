package history

// TrendDirection enum
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendDegrading TrendDirection = "degrading"
	TrendSteady    TrendDirection = "steady"
)

// TrendPoint is one scan's contribution to a trend window.
type TrendPoint struct {
	Scan   ScanRecord     `json:"scan"`
	Counts SeverityCounts `json:"counts"`
}

// TrendReport summarizes finding volume across an ordered sequence of
// scans for one profile/branch.
type TrendReport struct {
	Points    []TrendPoint   `json:"points"`
	Direction TrendDirection `json:"direction"`
	Delta     int            `json:"delta"`
}

// ComputeTrend derives per-scan totals and the direction/magnitude of
// change across the window. Points must arrive oldest first. Scans with
// zero findings and gaps in the series are fine: the delta is simply
// last total minus first total.
func ComputeTrend(points []TrendPoint) TrendReport {
	r := TrendReport{Points: points, Direction: TrendSteady}
	if len(points) < 2 {
		return r
	}
	first := points[0].Counts.Total
	last := points[len(points)-1].Counts.Total
	r.Delta = last - first
	switch {
	case r.Delta < 0:
		r.Direction = TrendImproving
	case r.Delta > 0:
		r.Direction = TrendDegrading
	}
	return r
}
