package dmtime

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"dmtset/pkg/contract"
)

const (
	secondsPerDay = 86400
	// divPrecision: 除法保留的小数位，远高于亚采样精度需求。
	divPrecision = 32
)

var (
	daySeconds = decimal.NewFromInt(secondsPerDay)
	maxInt64   = decimal.NewFromInt(math.MaxInt64)
	minInt64   = decimal.NewFromInt(math.MinInt64)
)

// Mapper 将绝对 MJD 映射为图像列下标：
//
//	position = round((mjd - start) * 86400 / tsamp)
//
// 全程十进制运算；取整规则为四舍六入五成双（half-to-even）。
type Mapper struct {
	start decimal.Decimal
	tsamp decimal.Decimal
}

// NewMapper 以头部起始历元与采样间隔（秒）构造 Mapper。
func NewMapper(start, tsamp decimal.Decimal) (Mapper, error) {
	if !tsamp.IsPositive() {
		return Mapper{}, fmt.Errorf("%w: tsamp must be positive, got %s", contract.ErrInvalidInput, tsamp)
	}
	return Mapper{start: start, tsamp: tsamp}, nil
}

// MapperFromHeader 使用头部中的 StartMJD/TSamp。
func MapperFromHeader(h contract.Header) (Mapper, error) {
	return NewMapper(h.StartMJD, h.TSamp)
}

// Position 返回 mjd 对应的列下标（可能为负或越界，由 Locate 检查）。
// 超出 int64 的结果饱和到 MaxInt64/MinInt64，不回绕。
func (m Mapper) Position(mjd decimal.Decimal) int64 {
	samples := mjd.Sub(m.start).Mul(daySeconds).DivRound(m.tsamp, divPrecision).RoundBank(0)
	switch {
	case samples.GreaterThan(maxInt64):
		return math.MaxInt64
	case samples.LessThan(minInt64):
		return math.MinInt64
	}
	return samples.IntPart()
}

// Locate 计算候选体位置并检查 0 <= p < cols；越界返回 *CandidateError。
func (m Mapper) Locate(c contract.Candidate, cols int) (int64, error) {
	p := m.Position(c.MJD)
	if p < 0 || p >= int64(cols) {
		return p, &contract.CandidateError{Line: c.Line, MJD: c.MJDText, Position: p, Err: contract.ErrIndexOutOfRange}
	}
	return p, nil
}
