package dmtime

import (
	"fmt"
	"math"

	"dmtset/pkg/contract"
)

// Normalize 线性缩放到 0..255：round(255*(x-min)/(max-min))，float64 计算后截断到 uint8 范围。
// 非有限值（NaN/Inf）不参与极值统计并输出 0；max == min 时输出全 0。
// len(dst) 必须不小于 len(src)。
func Normalize(dst []uint8, src []float32) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range src {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		if f < lo {
			lo = f
		}
		if f > hi {
			hi = f
		}
	}
	span := hi - lo
	if !(span > 0) || math.IsInf(span, 0) {
		for i := range src {
			dst[i] = 0
		}
		return
	}
	for i, v := range src {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			dst[i] = 0
			continue
		}
		s := math.Round(255 * (f - lo) / span)
		switch {
		case s <= 0:
			dst[i] = 0
		case s >= 255:
			dst[i] = 255
		default:
			dst[i] = uint8(s)
		}
	}
}

// Extract 取 img[:, start:start+width]，沿 DM 轴翻转（高 DM 在前）并归一化。
// 越界直接失败，不裁剪也不回绕。
func Extract(img *contract.Image, start int64, width int) (contract.Window, error) {
	if width <= 0 || start < 0 || start+int64(width) > int64(img.Cols()) {
		return contract.Window{}, fmt.Errorf("%w: start=%d width=%d cols=%d", contract.ErrWindowOutOfBounds, start, width, img.Cols())
	}
	rows := img.Rows()
	buf := make([]float32, rows*width)
	s := int(start)
	for r := 0; r < rows; r++ {
		copy(buf[r*width:(r+1)*width], img.Row(rows-1-r)[s:s+width])
	}
	pix := make([]uint8, len(buf))
	Normalize(pix, buf)
	return contract.Window{Rows: rows, Cols: width, Pix: pix}, nil
}

// CandidateWindows 对中心列 p 依次提取偏移 0..n-1 的窗口（起点 p-offset）。
// 任一偏移越界即整体失败。
func CandidateWindows(img *contract.Image, p int64, width, n int) ([]contract.Window, error) {
	out := make([]contract.Window, 0, n)
	for off := 0; off < n; off++ {
		w, err := Extract(img, p-int64(off), width)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// NormalizeImage 将整页 (rows, cols) 数据翻转 DM 轴后归一化，与 Extract 的处理一致。
func NormalizeImage(data []float32, rows, cols int) (contract.Window, error) {
	if rows <= 0 || cols <= 0 || len(data) != rows*cols {
		return contract.Window{}, fmt.Errorf("%w: %d samples for %dx%d", contract.ErrPageShape, len(data), rows, cols)
	}
	buf := make([]float32, len(data))
	for r := 0; r < rows; r++ {
		copy(buf[r*cols:(r+1)*cols], data[(rows-1-r)*cols:(rows-r)*cols])
	}
	pix := make([]uint8, len(buf))
	Normalize(pix, buf)
	return contract.Window{Rows: rows, Cols: cols, Pix: pix}, nil
}
