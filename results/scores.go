// Package results - Turns raw model outputs into ranked predictions and
// persists run reports.
package results

import (
	"sort"
	"strconv"
	"strings"

	"github.com/chewxy/math32"
)

// Labels names the model classes by output index.
type Labels []string

// DigitLabels names the ten classes of a digit classifier.
var DigitLabels = Labels{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}

// ParseLabels splits a comma separated label list. Blank entries are kept so
// indexes stay aligned.
func ParseLabels(s string) Labels {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	labels := make(Labels, len(parts))
	for i, p := range parts {
		labels[i] = strings.TrimSpace(p)
	}
	return labels
}

// Name returns the label of class i, or its index when unnamed.
func (l Labels) Name(i int) string {
	if i >= 0 && i < len(l) && l[i] != "" {
		return l[i]
	}
	return strconv.Itoa(i)
}

// Prediction is one ranked class.
type Prediction struct {
	Index int     `json:"index"`
	Label string  `json:"label"`
	Score float32 `json:"score"`
}

// Softmax converts logits into probabilities. The maximum is subtracted
// before exponentiation to keep large logits finite.
func Softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	maxV := math32.Inf(-1)
	for _, v := range logits {
		if v > maxV {
			maxV = v
		}
	}
	out := make([]float32, len(logits))
	var sum float32
	for i, v := range logits {
		out[i] = math32.Exp(v - maxV)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// ArgMax returns the index and value of the largest element, or -1 for an
// empty slice. NaN values are never selected.
func ArgMax(v []float32) (int, float32) {
	best, bestV := -1, float32(0)
	for i, x := range v {
		if math32.IsNaN(x) {
			continue
		}
		if best < 0 || x > bestV {
			best, bestV = i, x
		}
	}
	return best, bestV
}

// TopK returns the k highest scoring classes in descending order. Ties keep
// the lower index first.
func TopK(scores []float32, k int, labels Labels) []Prediction {
	if k <= 0 || k > len(scores) {
		k = len(scores)
	}
	preds := make([]Prediction, 0, len(scores))
	for i, s := range scores {
		if math32.IsNaN(s) {
			continue
		}
		preds = append(preds, Prediction{Index: i, Label: labels.Name(i), Score: s})
	}
	sort.SliceStable(preds, func(i, j int) bool { return preds[i].Score > preds[j].Score })
	if k < len(preds) {
		preds = preds[:k]
	}
	return preds
}

// Scoring controls how outputs are presented by the sinks.
type Scoring struct {
	Labels Labels
	// Softmax converts logits to probabilities before ranking.
	Softmax bool
	// TopK limits the ranked predictions, 0 for all.
	TopK int
}

// Scores returns the output as presented: probabilities when Softmax is
// set, the raw values otherwise.
func (s Scoring) Scores(output []float32) []float32 {
	if s.Softmax {
		return Softmax(output)
	}
	return output
}

// Rank returns the ranked predictions for output.
func (s Scoring) Rank(output []float32) []Prediction {
	return TopK(s.Scores(output), s.TopK, s.Labels)
}
