package dmtime

import (
	"errors"
	"fmt"

	"dmtset/pkg/contract"
)

// Collected: 一类候选体产出的窗口、全部已映射位置（用于排除区间）与被跳过的候选。
type Collected struct {
	Part
	Positions []int64
	Skipped   []*contract.CandidateError
}

// WindowSpec: 窗口宽度与每个候选体的偏移数。
type WindowSpec struct {
	Width     int
	NTSamples int
}

// CollectCandidates 映射每个候选体并提取 NTSamples 个偏移窗口。
// skip 为 true 时，越界下标或越界窗口的候选体被记录在 Skipped 中并跳过；
// 否则首个此类错误即返回。位置已映射成功的候选体即使窗口越界也计入 Positions。
func CollectCandidates(img *contract.Image, m Mapper, cands []contract.Candidate, class contract.Class, spec WindowSpec, skip bool) (Collected, error) {
	var out Collected
	for _, c := range cands {
		p, err := m.Locate(c, img.Cols())
		if err != nil {
			var ce *contract.CandidateError
			if skip && errors.As(err, &ce) {
				out.Skipped = append(out.Skipped, ce)
				continue
			}
			return Collected{}, err
		}
		out.Positions = append(out.Positions, p)
		ws, err := CandidateWindows(img, p, spec.Width, spec.NTSamples)
		if err != nil {
			ce := &contract.CandidateError{Line: c.Line, MJD: c.MJDText, Position: p, Err: err}
			if skip && errors.Is(err, contract.ErrWindowOutOfBounds) {
				out.Skipped = append(out.Skipped, ce)
				continue
			}
			return Collected{}, fmt.Errorf("%s: %w", class, ce)
		}
		for off, w := range ws {
			out.add(w, contract.Origin{Class: class, Column: p, Offset: off, CandidateLine: c.Line})
		}
	}
	return out, nil
}
