package dtw

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/himanishpuri/Tartil/pkg/models"
)

func randomSpectrogram(t *testing.T, rng *rand.Rand, bands, frames int) *models.Spectrogram {
	t.Helper()
	s := models.NewSpectrogram(bands, frames)
	for tt := 0; tt < frames; tt++ {
		for b := 0; b < bands; b++ {
			s.Set(b, tt, rng.Float64()*4)
		}
	}
	return s
}

func fromRows(t *testing.T, rows [][]float64) *models.Spectrogram {
	t.Helper()
	s, err := models.SpectrogramFromRows(rows)
	if err != nil {
		t.Fatalf("SpectrogramFromRows: %v", err)
	}
	return s
}

func TestAlignIdentical(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	a := randomSpectrogram(t, rng, 8, 30)

	res, err := Align(context.Background(), a, a, Options{})
	if err != nil {
		t.Fatalf("Align failed: %v", err)
	}
	if res.Distance != 0 {
		t.Errorf("Expected distance 0 for identical input, got %f", res.Distance)
	}
	if res.AvgCost != 0 {
		t.Errorf("Expected avg cost 0, got %f", res.AvgCost)
	}
	if res.PathLength != 30 {
		t.Errorf("Expected diagonal path of 30 cells, got %d", res.PathLength)
	}
}

func TestAlignZeros(t *testing.T) {
	ref := models.NewSpectrogram(40, 50)
	user := models.NewSpectrogram(40, 50)

	res, err := Align(context.Background(), ref, user, Options{})
	if err != nil {
		t.Fatalf("Align failed: %v", err)
	}
	if res.Distance != 0 || res.AvgCost != 0 {
		t.Errorf("Expected zero cost, got distance=%f avg=%f", res.Distance, res.AvgCost)
	}
}

func TestAlignKnownValue(t *testing.T) {
	// 1-band sequences: [0 1 2] vs [0 2]
	ref := fromRows(t, [][]float64{{0, 1, 2}})
	user := fromRows(t, [][]float64{{0, 2}})

	res, err := Align(context.Background(), ref, user, Options{})
	if err != nil {
		t.Fatalf("Align failed: %v", err)
	}
	// Best path (0,0)->(1,1)->(2,1): costs 0 + 1 + 0
	if res.Distance != 1 {
		t.Errorf("Expected distance 1, got %f", res.Distance)
	}
	if res.PathLength != 3 {
		t.Errorf("Expected path length 3, got %d", res.PathLength)
	}
	if math.Abs(res.AvgCost-1.0/3.0) > 1e-12 {
		t.Errorf("Expected avg cost 1/3, got %f", res.AvgCost)
	}
}

func TestAlignTempoInvariance(t *testing.T) {
	// The user holds every frame twice; warping should absorb it entirely.
	rng := rand.New(rand.NewSource(7))
	ref := randomSpectrogram(t, rng, 6, 20)
	user := models.NewSpectrogram(6, 40)
	for tt := 0; tt < 40; tt++ {
		for b := 0; b < 6; b++ {
			user.Set(b, tt, ref.At(b, tt/2))
		}
	}

	res, err := Align(context.Background(), ref, user, Options{})
	if err != nil {
		t.Fatalf("Align failed: %v", err)
	}
	if res.Distance > 1e-9 {
		t.Errorf("Expected time-stretched copy to align at zero cost, got %f", res.Distance)
	}
}

func TestAlignSymmetric(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 10; i++ {
		a := randomSpectrogram(t, rng, 5, 5+rng.Intn(30))
		b := randomSpectrogram(t, rng, 5, 5+rng.Intn(30))

		ab, err := Align(context.Background(), a, b, Options{})
		if err != nil {
			t.Fatalf("Align(a,b) failed: %v", err)
		}
		ba, err := Align(context.Background(), b, a, Options{})
		if err != nil {
			t.Fatalf("Align(b,a) failed: %v", err)
		}
		if math.Abs(ab.Distance-ba.Distance) > 1e-9 {
			t.Errorf("Distance not symmetric: %f vs %f", ab.Distance, ba.Distance)
		}
	}
}

func TestAlignPathProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	ref := randomSpectrogram(t, rng, 4, 17)
	user := randomSpectrogram(t, rng, 4, 29)

	res, err := Align(context.Background(), ref, user, Options{})
	if err != nil {
		t.Fatalf("Align failed: %v", err)
	}

	path := res.Path
	if path[0] != (Step{0, 0}) {
		t.Errorf("Path must start at (0,0), got %+v", path[0])
	}
	if last := path[len(path)-1]; last != (Step{16, 28}) {
		t.Errorf("Path must end at (16,28), got %+v", last)
	}
	for k := 1; k < len(path); k++ {
		di := path[k].Ref - path[k-1].Ref
		dj := path[k].User - path[k-1].User
		if di < 0 || dj < 0 || di > 1 || dj > 1 || (di == 0 && dj == 0) {
			t.Fatalf("Invalid move at step %d: %+v -> %+v", k, path[k-1], path[k])
		}
	}
	if res.PathLength < 29 {
		t.Errorf("Path length %d shorter than max(R,U)", res.PathLength)
	}
	if res.Distance < 0 {
		t.Errorf("Negative distance %f", res.Distance)
	}
	if res.AvgCost > res.Distance {
		t.Errorf("Average cost %f exceeds distance %f", res.AvgCost, res.Distance)
	}

	// The path cost must reproduce the reported distance.
	var sum float64
	for _, s := range path {
		sum += Euclidean(ref.Frame(s.Ref), user.Frame(s.User))
	}
	if math.Abs(sum-res.Distance) > 1e-9 {
		t.Errorf("Path cost %f does not match distance %f", sum, res.Distance)
	}
}

func TestAlignParallelMatchesSequential(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	ref := randomSpectrogram(t, rng, 10, 120)
	user := randomSpectrogram(t, rng, 10, 90)

	seq, err := Align(context.Background(), ref, user, Options{ParallelCells: -1})
	if err != nil {
		t.Fatalf("sequential Align failed: %v", err)
	}
	par, err := Align(context.Background(), ref, user, Options{ParallelCells: 1, Workers: 4})
	if err != nil {
		t.Fatalf("parallel Align failed: %v", err)
	}
	if seq.Distance != par.Distance || seq.PathLength != par.PathLength {
		t.Errorf("Parallel result differs: %+v vs %+v", par.AlignmentResult, seq.AlignmentResult)
	}
}

func TestAlignShapeMismatch(t *testing.T) {
	ref := models.NewSpectrogram(40, 10)
	user := models.NewSpectrogram(39, 10)

	_, err := Align(context.Background(), ref, user, Options{})
	if !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
}

func TestAlignMaxCells(t *testing.T) {
	ref := models.NewSpectrogram(2, 100)
	user := models.NewSpectrogram(2, 100)

	_, err := Align(context.Background(), ref, user, Options{MaxCells: 5000})
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("Expected ErrTooLarge, got %v", err)
	}
}

func TestAlignCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Align(ctx, models.NewSpectrogram(2, 10), models.NewSpectrogram(2, 10), Options{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
