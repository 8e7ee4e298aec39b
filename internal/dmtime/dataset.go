package dmtime

import (
	"fmt"
	"math/rand/v2"

	"dmtset/pkg/contract"
)

// Part: 一类窗口及其来源（长度一致）。
type Part struct {
	Windows []contract.Window
	Origins []contract.Origin
}

// Len 返回窗口数。
func (p Part) Len() int { return len(p.Windows) }

func (p *Part) add(w contract.Window, o contract.Origin) {
	p.Windows = append(p.Windows, w)
	p.Origins = append(p.Origins, o)
}

// NegativeTarget 负样本目标数：正样本与零 DM 样本之和。
func NegativeTarget(pos, zero Part) int { return pos.Len() + zero.Len() }

// Assemble 按 正样本、零 DM、负样本 的顺序拼接，正样本标 Pulse，其余标 Artefact，
// 再以同一随机置换同时打乱窗口、标签与来源。
func Assemble(pos, zero, neg Part, rng *rand.Rand) (contract.Dataset, error) {
	for _, p := range []Part{pos, zero, neg} {
		if len(p.Windows) != len(p.Origins) {
			return contract.Dataset{}, fmt.Errorf("%w: %d windows, %d origins", contract.ErrInvariantViolation, len(p.Windows), len(p.Origins))
		}
	}
	total := pos.Len() + zero.Len() + neg.Len()
	wins := make([]contract.Window, 0, total)
	labels := make([]contract.Label, 0, total)
	origins := make([]contract.Origin, 0, total)
	for i, p := range []Part{pos, zero, neg} {
		label := contract.LabelArtefact
		if i == 0 {
			label = contract.LabelPulse
		}
		wins = append(wins, p.Windows...)
		origins = append(origins, p.Origins...)
		for range p.Windows {
			labels = append(labels, label)
		}
	}
	ds := contract.Dataset{
		Windows: make([]contract.Window, total),
		Labels:  make([]contract.Label, total),
		Origins: make([]contract.Origin, total),
	}
	for i, j := range rng.Perm(total) {
		ds.Windows[i] = wins[j]
		ds.Labels[i] = labels[j]
		ds.Origins[i] = origins[j]
	}
	if err := ds.Validate(); err != nil {
		return contract.Dataset{}, err
	}
	return ds, nil
}

// RandomPart 将采样得到的窗口与起点列包装为负样本部分。
func RandomPart(wins []contract.Window, starts []int64) Part {
	p := Part{
		Windows: wins,
		Origins: make([]contract.Origin, len(starts)),
	}
	for i, s := range starts {
		p.Origins[i] = contract.Origin{Class: contract.ClassRandom, Column: s}
	}
	return p
}
