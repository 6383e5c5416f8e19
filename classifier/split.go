package classifier

import (
	"math"

	"cityflow/traffic-classifier/utils/randengine"
)

// TrainTestSplit shuffles [0, n) with seed and holds out ceil(testSize*n)
// indices for evaluation.
func TrainTestSplit(n int, testSize float64, seed uint64) (train, test []int) {
	perm := randengine.New(seed).Perm(n)
	nTest := int(math.Ceil(testSize * float64(n)))
	nTest = min(max(nTest, 0), n)
	return perm[nTest:], perm[:nTest]
}
