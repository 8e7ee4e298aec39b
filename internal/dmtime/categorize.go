package dmtime

import (
	"sort"

	"dmtset/pkg/contract"
)

// PulseRange: 真实脉冲 DM 闭区间 [Low, High]。
type PulseRange struct {
	Low  float64
	High float64
}

// Classes: 候选体三分类结果，互斥且完备。
type Classes struct {
	Pulse  []contract.Candidate
	ZeroDM []contract.Candidate
	Rest   []contract.Candidate
}

// Classify 返回候选体类别。dm == 0 优先判为 ZeroDM，即便脉冲区间包含 0。
func Classify(c contract.Candidate, r PulseRange) contract.Class {
	switch {
	case c.DM == 0:
		return contract.ClassZeroDM
	case r.Low <= c.DM && c.DM <= r.High:
		return contract.ClassPulse
	default:
		return contract.ClassRest
	}
}

// Categorize 将候选表划分为 Pulse/ZeroDM/Rest；各子集按 SNR 降序（稳定）排列。
// 排序只是处理顺序上的便利，不影响归类。
func Categorize(cands []contract.Candidate, r PulseRange) Classes {
	var out Classes
	for _, c := range cands {
		switch Classify(c, r) {
		case contract.ClassZeroDM:
			out.ZeroDM = append(out.ZeroDM, c)
		case contract.ClassPulse:
			out.Pulse = append(out.Pulse, c)
		default:
			out.Rest = append(out.Rest, c)
		}
	}
	bySNR(out.Pulse)
	bySNR(out.ZeroDM)
	bySNR(out.Rest)
	return out
}

func bySNR(cs []contract.Candidate) {
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].SNR > cs[j].SNR })
}
