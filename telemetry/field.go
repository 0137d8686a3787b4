package telemetry

import (
	"log/slog"
	"math"

	"gonum.org/v1/gonum/blas/blas32"
)

// cellStride is the number of float32 values per cell: vx, vy, density.
const cellStride = 3

// activeEpsilon is the magnitude below which a cell counts as at rest.
const activeEpsilon = 1e-6

// FieldStats summarizes one grid buffer at the end of a frame.
type FieldStats struct {
	Frame       int64   `csv:"frame"`
	SimTimeSec  float64 `csv:"sim_time"`
	Inputs      int     `csv:"inputs"`
	Cells       int     `csv:"cells"`
	ActiveCells int     `csv:"active_cells"`

	// Density
	DensityMass float64 `csv:"density_mass"` // Sum of |density|
	MaxDensity  float64 `csv:"max_density"`

	// Velocity
	KineticEnergy float64 `csv:"kinetic_energy"` // 0.5 * sum(|v|^2)
	RMSSpeed      float64 `csv:"rms_speed"`
	MaxSpeed      float64 `csv:"max_speed"`
}

// MeasureField computes FieldStats for a flat cell buffer of a square grid.
// Returns zero stats if the buffer is smaller than gridSize*gridSize cells.
func MeasureField(data []float32, gridSize int) FieldStats {
	cells := gridSize * gridSize
	if gridSize <= 0 || len(data) < cells*cellStride {
		return FieldStats{}
	}

	// Strided views over the interleaved buffer
	vx := blas32.Vector{N: cells, Inc: cellStride, Data: data[0:]}
	vy := blas32.Vector{N: cells, Inc: cellStride, Data: data[1:]}
	density := blas32.Vector{N: cells, Inc: cellStride, Data: data[2:]}

	speedSq := float64(blas32.Dot(vx, vx)) + float64(blas32.Dot(vy, vy))
	maxDensity := math.Abs(float64(density.Data[blas32.Iamax(density)*cellStride]))

	var maxSpeedSq float64
	active := 0
	for i := 0; i < cells; i++ {
		base := i * cellStride
		x, y, d := float64(data[base]), float64(data[base+1]), float64(data[base+2])
		s := x*x + y*y
		if s > maxSpeedSq {
			maxSpeedSq = s
		}
		if s > activeEpsilon*activeEpsilon || math.Abs(d) > activeEpsilon {
			active++
		}
	}

	return FieldStats{
		Cells:         cells,
		ActiveCells:   active,
		DensityMass:   float64(blas32.Asum(density)),
		MaxDensity:    maxDensity,
		KineticEnergy: 0.5 * speedSq,
		RMSSpeed:      math.Sqrt(speedSq / float64(cells)),
		MaxSpeed:      math.Sqrt(maxSpeedSq),
	}
}

// LogValue implements slog.LogValuer for structured logging.
func (s FieldStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("frame", s.Frame),
		slog.Float64("sim_time", s.SimTimeSec),
		slog.Int("inputs", s.Inputs),
		slog.Int("active_cells", s.ActiveCells),
		slog.Float64("density_mass", s.DensityMass),
		slog.Float64("max_density", s.MaxDensity),
		slog.Float64("kinetic_energy", s.KineticEnergy),
		slog.Float64("rms_speed", s.RMSSpeed),
		slog.Float64("max_speed", s.MaxSpeed),
	)
}

// LogStats logs field statistics.
func (s FieldStats) LogStats() {
	slog.Info("field", "stats", s)
}
