package contract

import "context"

// PageSource: 流式推理的页来源（环形缓冲/队列/文件）。
// 单消费者、按序：Next 取页，处理完毕后 Release，再取下一页。
// 源耗尽时 Next 返回 io.EOF。
type PageSource interface {
	Next(ctx context.Context) ([]byte, error)
	Release(ctx context.Context) error
	Close() error
}

// Classifier: 对单个归一化窗口给出类别下标（argmax）。
// 单次调用、同步返回；应尊重 ctx 取消/超时。
type Classifier interface {
	Classify(ctx context.Context, w Window) (int, error)
}

// RequestSizer: 可选接口；返回窗口编码后的请求体字节数，供限流按实际发送量计费。
// 未实现时按原始页字节计。
type RequestSizer interface {
	RequestBytes(w Window) (int, error)
}
