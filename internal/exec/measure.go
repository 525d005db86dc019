package exec

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Throughput is the trimmed-mean result of a measurement sweep.
type Throughput struct {
	OpDuration  time.Duration // per copied buffer
	BytesPerSec float64
}

func (tp Throughput) String() string {
	return fmt.Sprintf("%.3fus, %s", float64(tp.OpDuration.Nanoseconds())/1e3, FormatBytesPerSec(tp.BytesPerSec))
}

// Measure times count back-to-back copies of src into dst, repeated reps
// rounds. The two fastest and two slowest rounds are dropped and the rest
// averaged, so a cold cache or a scheduler hiccup does not skew the figure.
// reps must be at least 5.
func Measure(ctx context.Context, eng Engine, src, dst *Object, count, reps int) (Throughput, error) {
	if count <= 0 {
		return Throughput{}, fmt.Errorf("measure: count %d", count)
	}
	if reps < 5 {
		return Throughput{}, fmt.Errorf("measure: need at least 5 rounds to trim, got %d", reps)
	}
	batch, err := LinearCopyBatch(src, dst)
	if err != nil {
		return Throughput{}, err
	}

	rounds := make([]time.Duration, 0, reps)
	for i := 0; i < reps; i++ {
		start := time.Now()
		for j := 0; j < count; j++ {
			if err := eng.Submit(ctx, batch); err != nil {
				return Throughput{}, err
			}
		}
		if err := eng.Sync(ctx); err != nil {
			return Throughput{}, err
		}
		rounds = append(rounds, time.Since(start))
	}

	sort.Slice(rounds, func(i, j int) bool { return rounds[i] < rounds[j] })
	var total time.Duration
	kept := rounds[2 : len(rounds)-2]
	for _, d := range kept {
		total += d
	}
	mean := total / time.Duration(len(kept))

	perOp := mean / time.Duration(count)
	tp := Throughput{OpDuration: perOp}
	if perOp > 0 {
		tp.BytesPerSec = float64(src.Size()) / perOp.Seconds()
	}
	return tp, nil
}

// FormatBytesPerSec renders a rate with a binary unit prefix.
func FormatBytesPerSec(v float64) string {
	units := []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}
	i := 0
	for v >= 1024 && i < len(units)-1 {
		v /= 1024
		i++
	}
	return fmt.Sprintf("%.1f%s/s", v, units[i])
}
