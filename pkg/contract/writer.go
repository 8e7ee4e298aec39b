package contract

import "context"

// ArtifactID: 持久化工件标识（与 FileID 复用同一表示）。
type ArtifactID = FileID

// DatasetWriter: 将数据集与推理结果持久化到目标介质。
// 约束：
//  1. 同一 name 单写者；
//  2. 失败不留下半成品（原子替换或清理临时文件）；
//  3. ctx 取消/超时需尽快返回；
//  4. 错误直接上抛（不做重试/回退）。
type DatasetWriter interface {
	WriteDataset(ctx context.Context, name string, ds Dataset) ([]ArtifactID, error)
	WritePredictions(ctx context.Context, name string, preds []int64) (ArtifactID, error)
}
