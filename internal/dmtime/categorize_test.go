package dmtime

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"dmtset/pkg/contract"
)

func cand(line int, dm, snr float64) contract.Candidate {
	return contract.Candidate{Line: line, DM: dm, SNR: snr}
}

// TestCategorizePartition 三类互斥且完备，子集按 SNR 降序。
func TestCategorizePartition(t *testing.T) {
	in := []contract.Candidate{
		cand(1, 5, 8), cand(2, 0, 20), cand(3, 3, 9), cand(4, 7, 12),
		cand(5, 7.01, 30), cand(6, 2.99, 7), cand(7, 0, 6), cand(8, 4, 9),
	}
	cl := Categorize(in, PulseRange{Low: 3, High: 7})
	assert.Equal(t, len(in), len(cl.Pulse)+len(cl.ZeroDM)+len(cl.Rest))

	lines := func(cs []contract.Candidate) []int {
		out := make([]int, len(cs))
		for i, c := range cs {
			out[i] = c.Line
		}
		return out
	}
	// SNR 相同保持输入顺序
	assert.Equal(t, []int{4, 3, 8, 1}, lines(cl.Pulse))
	assert.Equal(t, []int{2, 7}, lines(cl.ZeroDM))
	assert.Equal(t, []int{5, 6}, lines(cl.Rest))
	// 输入不被修改
	assert.Equal(t, 1, in[0].Line)
}

// TestClassifyZeroPrecedence 脉冲区间包含 0 时 dm==0 仍归为 ZeroDM。
func TestClassifyZeroPrecedence(t *testing.T) {
	r := PulseRange{Low: -1, High: 1}
	assert.Equal(t, contract.ClassZeroDM, Classify(cand(1, 0, 1), r))
	assert.Equal(t, contract.ClassPulse, Classify(cand(1, 0.5, 1), r))
	assert.Equal(t, contract.ClassRest, Classify(cand(1, 2, 1), r))
	assert.Equal(t, "zero_dm", contract.ClassZeroDM.String())
}
