package metrics

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// DiceEpsilon keeps the soft Dice ratio finite for empty selections.
const DiceEpsilon = 1e-7

const (
	crossEntropyWeight = 0.5
	diceWeight         = 0.5
)

// LossResult holds the blended loss and its parts for one batch.
type LossResult struct {
	Loss         float64
	CrossEntropy float64
	Dice         float64
	// Valid is the number of pixels that entered the statistics. Zero means
	// the batch carried no ground truth; Loss is then 0.
	Valid int
}

// XEDiceLoss is 0.5 * binary cross-entropy + 0.5 * soft Dice, both computed
// over pixels whose label is not NoData.
//
// Logits are expected squeezed to the label shape, i.e. [N,1,H,W] logits are
// read as [N,H,W]; only the flat lengths are compared.
type XEDiceLoss struct {
	Epsilon float64
}

// NewXEDiceLoss returns the loss with Epsilon = DiceEpsilon.
func NewXEDiceLoss() *XEDiceLoss {
	return &XEDiceLoss{Epsilon: DiceEpsilon}
}

// bceWithLogits is max(x,0) - x*t + log(1+exp(-|x|)).
func bceWithLogits(x, t float64) float64 {
	return math.Max(x, 0) - x*t + math.Log1p(math.Exp(-math.Abs(x)))
}

type selection struct {
	index []int
	probs []float64
	truth []float64
	xe    float64
}

func (l *XEDiceLoss) selectValid(logits, labels []float32) (*selection, error) {
	if len(logits) != len(labels) {
		return nil, errors.Errorf("metrics: %d logits for %d labels", len(logits), len(labels))
	}
	valid := ValidMask(labels)
	s := &selection{}
	for i, ok := range valid {
		if !ok {
			continue
		}
		// NoData targets would be replaced by 0 here; they are already
		// excluded by the mask.
		x, t := float64(logits[i]), float64(labels[i])
		s.xe += bceWithLogits(x, t)
		s.index = append(s.index, i)
		s.probs = append(s.probs, Sigmoid(x))
		s.truth = append(s.truth, t)
	}
	return s, nil
}

func (l *XEDiceLoss) result(s *selection) LossResult {
	n := len(s.index)
	if n == 0 {
		return LossResult{}
	}
	eps := l.Epsilon
	inter := floats.Dot(s.probs, s.truth)
	total := floats.Sum(s.probs) + floats.Sum(s.truth)
	xe := s.xe / float64(n)
	dice := 1 - (2*inter+eps)/(total+eps)
	return LossResult{
		Loss:         crossEntropyWeight*xe + diceWeight*dice,
		CrossEntropy: xe,
		Dice:         dice,
		Valid:        n,
	}
}

// Forward computes the loss without gradients.
func (l *XEDiceLoss) Forward(logits, labels []float32) (LossResult, error) {
	s, err := l.selectValid(logits, labels)
	if err != nil {
		return LossResult{}, err
	}
	return l.result(s), nil
}

// ForwardBackward computes the loss and dLoss/dLogits. Gradient entries of
// NoData pixels are zero; so is the whole gradient when no pixel is valid.
func (l *XEDiceLoss) ForwardBackward(logits, labels []float32) (LossResult, []float32, error) {
	s, err := l.selectValid(logits, labels)
	if err != nil {
		return LossResult{}, nil, err
	}
	res := l.result(s)
	grad := make([]float32, len(logits))
	if res.Valid == 0 {
		return res, grad, nil
	}

	n := float64(res.Valid)
	eps := l.Epsilon
	inter := floats.Dot(s.probs, s.truth)
	denom := floats.Sum(s.probs) + floats.Sum(s.truth) + eps
	num := 2*inter + eps
	for k, i := range s.index {
		p, t := s.probs[k], s.truth[k]
		dXE := (p - t) / n
		dDiceDp := -(2*t*denom - num) / (denom * denom)
		dDice := dDiceDp * p * (1 - p)
		grad[i] = float32(crossEntropyWeight*dXE + diceWeight*dDice)
	}
	return res, grad, nil
}
