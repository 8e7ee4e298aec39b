package contract

// Window: 归一化后的子图，形状 (Rows, Cols)，行序为 DM 降序（高 DM 在前）。
type Window struct {
	Rows int
	Cols int
	Pix  []uint8
}

// At 返回 (r, c) 处像素。
func (w Window) At(r, c int) uint8 { return w.Pix[r*w.Cols+c] }

// Origin: 窗口来源（类别、中心列、偏移、候选行号）。随机负样本 CandidateLine 为 0。
type Origin struct {
	Class         Class
	Column        int64
	Offset        int
	CandidateLine int
}

// Dataset: 打乱后的窗口与平行标签/来源数组。
// 不变量：三者长度相等，且使用同一置换。
type Dataset struct {
	Windows []Window
	Labels  []Label
	Origins []Origin
	// Rows/Width: 窗口形状；为 0 时取首个窗口的形状（空数据集写出时需要）。
	Rows  int
	Width int
}

// Len 返回样本数。
func (d Dataset) Len() int { return len(d.Windows) }

// Counts 返回各标签数量。
func (d Dataset) Counts() map[Label]int {
	out := map[Label]int{}
	for _, l := range d.Labels {
		out[l]++
	}
	return out
}

// Validate 校验平行数组长度与窗口形状一致。
func (d Dataset) Validate() error {
	if len(d.Windows) != len(d.Labels) || len(d.Windows) != len(d.Origins) {
		return ErrInvariantViolation
	}
	if len(d.Windows) == 0 {
		return nil
	}
	rows, cols := d.Windows[0].Rows, d.Windows[0].Cols
	if (d.Rows != 0 && d.Rows != rows) || (d.Width != 0 && d.Width != cols) {
		return ErrInvariantViolation
	}
	for _, w := range d.Windows {
		if w.Rows != rows || w.Cols != cols || len(w.Pix) != rows*cols {
			return ErrInvariantViolation
		}
	}
	return nil
}
