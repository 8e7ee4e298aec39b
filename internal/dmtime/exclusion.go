package dmtime

import "dmtset/pkg/contract"

// Exclusions 为每个已知检测位置 p 生成闭区间 [p-width, p]。重叠区间保留原样。
func Exclusions(positions []int64, width int) []contract.Interval {
	out := make([]contract.Interval, 0, len(positions))
	for _, p := range positions {
		out = append(out, contract.Interval{Start: p - int64(width), End: p})
	}
	return out
}

// Excluded 判断 p 是否落在任一排除区间内。
func Excluded(p int64, ivs []contract.Interval) bool {
	for _, iv := range ivs {
		if iv.Contains(p) {
			return true
		}
	}
	return false
}
