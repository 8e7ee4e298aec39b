package contract

import (
	"context"
	"io"
)

// TrialStore: DM 试验文件来源（目录/对象存储）。
// 约束：
// 1) List 返回的 FileID 稳定且去平台差异化，顺序不作保证（由 Catalog 按 DM 排序）；
// 2) Open 仅提供字节流，不做解码；
// 3) 不在内部起并发。
type TrialStore interface {
	List(ctx context.Context, dir string) ([]FileID, error)
	Open(ctx context.Context, id FileID) (io.ReadCloser, error)
}

// CandidateSource: 候选表来源。返回顺序即源文件行序。
type CandidateSource interface {
	Load(ctx context.Context) ([]Candidate, error)
}

// HeaderSource: 源数据流头部（起始 MJD、采样间隔）。
type HeaderSource interface {
	Header(ctx context.Context) (Header, error)
}
