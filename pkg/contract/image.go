package contract

// Image: DM-Time 图像，行 = DM 试验（升序），列 = 时间样本。
// 构造后只读；提取与采样共享同一实例，不做拷贝。
type Image struct {
	rows int
	cols int
	data []float32
}

// NewImage 接管 data 的所有权；len(data) 必须等于 rows*cols。
func NewImage(rows, cols int, data []float32) (*Image, error) {
	if rows <= 0 || cols <= 0 || len(data) != rows*cols {
		return nil, ErrInvalidInput
	}
	return &Image{rows: rows, cols: cols, data: data}, nil
}

func (m *Image) Rows() int { return m.rows }
func (m *Image) Cols() int { return m.cols }

// At 返回 (r, c) 处的样本。
func (m *Image) At(r, c int) float32 { return m.data[r*m.cols+c] }

// Row 返回第 r 行的只读视图（调用方不得修改）。
func (m *Image) Row(r int) []float32 {
	off := r * m.cols
	return m.data[off : off+m.cols : off+m.cols]
}
