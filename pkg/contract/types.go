package contract

import "github.com/shopspring/decimal"

// FileID: 逻辑文件ID（通常为路径，需规范化，跨平台一致）。
type FileID string

// TrialFile: 单个 DM 试验的时间序列文件。
// 约束：同一目录内 DM 唯一；按 DM 升序决定图像行序。
type TrialFile struct {
	DM float64
	ID FileID
}

// Candidate: 候选表中的一行。MJD 以十进制保存，避免大数相减时丢失精度；
// 除 DM/SNR 外的字段原样透传。
type Candidate struct {
	Line      int // 源文件行号（1 起）
	BeamName  string
	NN        string
	MJD       decimal.Decimal
	MJDText   string
	DM        float64
	Width     string
	SNR       float64
	FH        string
	FL        string
	ImageName string
	X         string
	NameFile  string
}

// Class: 候选体分类。
type Class int

const (
	ClassRest Class = iota
	ClassPulse
	ClassZeroDM
	// ClassRandom 仅用于来源标注：随机负样本。
	ClassRandom
)

func (c Class) String() string {
	switch c {
	case ClassPulse:
		return "pulse"
	case ClassZeroDM:
		return "zero_dm"
	case ClassRandom:
		return "random"
	default:
		return "rest"
	}
}

// Label: 数据集标签。
type Label string

const (
	LabelPulse    Label = "Pulse"
	LabelArtefact Label = "Artefact"
)

// Interval: 列空间上的排除区间，闭区间 [Start, End]。允许重叠，不合并。
type Interval struct {
	Start int64
	End   int64
}

// Contains 判断列 p 是否落在闭区间内。
func (iv Interval) Contains(p int64) bool { return iv.Start <= p && p <= iv.End }

// Header: 源数据流头部（起始历元与采样间隔）。
type Header struct {
	Basename string
	StartMJD decimal.Decimal
	TSamp    decimal.Decimal // 秒
	NChans   int
	NBits    int
	FCh1     float64
	FOff     float64
}
