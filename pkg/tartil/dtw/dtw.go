// Package dtw aligns two spectrograms with dynamic time warping.
//
// The local cost between a reference frame and a user frame is the Euclidean
// distance of their band vectors. The cumulative cost follows the standard
// three-move recurrence
//
//	D(i,j) = c(i,j) + min(D(i-1,j), D(i,j-1), D(i-1,j-1))
//
// so every path is monotonic and continuous from (0,0) to (R-1,U-1).
package dtw

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"

	"github.com/himanishpuri/Tartil/pkg/models"
	"golang.org/x/sync/errgroup"
)

// DefaultParallelCells is the matrix size above which local costs are computed
// by several goroutines.
const DefaultParallelCells = 1 << 20

// Options tunes resource usage. The zero value aligns any size sequentially
// below DefaultParallelCells and in parallel above it.
type Options struct {
	// MaxCells rejects alignments whose R×U matrix exceeds it. Zero disables the check.
	MaxCells int

	// ParallelCells is the matrix size at which cost rows are computed
	// concurrently. Zero means DefaultParallelCells, negative disables.
	ParallelCells int

	// Workers bounds the goroutines used for parallel rows. Zero means GOMAXPROCS.
	Workers int
}

// Step is one cell of the alignment path.
type Step struct {
	Ref  int
	User int
}

// Result is a complete alignment.
type Result struct {
	models.AlignmentResult
	Path []Step // from (0,0) to (R-1,U-1)
}

// ErrTooLarge is wrapped when the cost matrix would exceed Options.MaxCells.
var ErrTooLarge = errors.New("alignment matrix too large")

// Align computes the optimal alignment of user against ref. Both must have the
// same band count; a mismatch fails with models.ErrShapeMismatch.
func Align(ctx context.Context, ref, user *models.Spectrogram, opts Options) (*Result, error) {
	if ref == nil || user == nil {
		return nil, models.ShapeMismatch("nil spectrogram")
	}
	if ref.Bands() != user.Bands() {
		return nil, models.ShapeMismatch("reference has %d bands, user has %d", ref.Bands(), user.Bands())
	}
	R, U := ref.Frames(), user.Frames()
	if R == 0 || U == 0 || ref.Bands() == 0 {
		return nil, models.ShapeMismatch("empty spectrogram (%d×%d vs %d×%d)", ref.Bands(), R, user.Bands(), U)
	}
	cells := R * U
	if opts.MaxCells > 0 && cells > opts.MaxCells {
		return nil, fmt.Errorf("%w: %d×%d frames exceeds %d cells", ErrTooLarge, R, U, opts.MaxCells)
	}

	acc := make([]float64, cells)
	if err := fillCosts(ctx, acc, ref, user, opts); err != nil {
		return nil, err
	}
	if err := accumulate(ctx, acc, R, U); err != nil {
		return nil, err
	}

	path := traceback(acc, R, U)
	dist := acc[cells-1]
	return &Result{
		AlignmentResult: models.AlignmentResult{
			Distance:   dist,
			AvgCost:    dist / float64(len(path)),
			PathLength: len(path),
		},
		Path: path,
	}, nil
}

// Euclidean returns the Euclidean distance between two equal-length vectors.
func Euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// fillCosts writes the local cost c(i,j) into acc[i*U+j].
func fillCosts(ctx context.Context, acc []float64, ref, user *models.Spectrogram, opts Options) error {
	R, U := ref.Frames(), user.Frames()
	row := func(i int) {
		rf := ref.Frame(i)
		base := i * U
		for j := 0; j < U; j++ {
			acc[base+j] = Euclidean(rf, user.Frame(j))
		}
	}

	threshold := opts.ParallelCells
	if threshold == 0 {
		threshold = DefaultParallelCells
	}
	if threshold < 0 || R*U < threshold || R < 2 {
		for i := 0; i < R; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			row(i)
		}
		return nil
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	chunk := (R + workers - 1) / workers
	for start := 0; start < R; start += chunk {
		end := min(start+chunk, R)
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				row(i)
			}
			return nil
		})
	}
	return g.Wait()
}

// accumulate turns local costs into cumulative costs in place.
func accumulate(ctx context.Context, acc []float64, R, U int) error {
	for j := 1; j < U; j++ {
		acc[j] += acc[j-1]
	}
	for i := 1; i < R; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		base := i * U
		prev := base - U
		acc[base] += acc[prev]
		for j := 1; j < U; j++ {
			acc[base+j] += min(acc[prev+j], acc[base+j-1], acc[prev+j-1])
		}
	}
	return nil
}

// traceback walks from the final cell back to the origin, always stepping to
// the cheapest predecessor. Ties prefer the diagonal, then the reference axis.
func traceback(acc []float64, R, U int) []Step {
	path := make([]Step, 0, max(R, U))
	i, j := R-1, U-1
	path = append(path, Step{Ref: i, User: j})
	for i > 0 || j > 0 {
		switch {
		case i == 0:
			j--
		case j == 0:
			i--
		default:
			diag := acc[(i-1)*U+j-1]
			up := acc[(i-1)*U+j]
			left := acc[i*U+j-1]
			switch {
			case diag <= up && diag <= left:
				i, j = i-1, j-1
			case up <= left:
				i--
			default:
				j--
			}
		}
		path = append(path, Step{Ref: i, User: j})
	}
	for l, r := 0, len(path)-1; l < r; l, r = l+1, r-1 {
		path[l], path[r] = path[r], path[l]
	}
	return path
}
