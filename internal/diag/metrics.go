package diag

import (
	"strconv"
	"strings"
	"sync"
)

// 进程内指标（无导出端点，运行结束时汇总进日志）。
// - op_total{comp,stage,result}
// - error_total{comp,code}
// - op_duration_ms{comp,stage}

var metrics = struct {
	mu  sync.Mutex
	ops map[string]int64
	err map[string]int64
	dur map[string]int64
}{ops: map[string]int64{}, err: map[string]int64{}, dur: map[string]int64{}}

func key(parts ...string) string { return strings.Join(parts, "/") }

// IncOp 累加操作计数（result=success|error|skip）。
func IncOp(comp, stage, result string) {
	metrics.mu.Lock()
	metrics.ops[key(comp, stage, result)]++
	metrics.mu.Unlock()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	metrics.mu.Lock()
	metrics.err[key(comp, code)]++
	metrics.mu.Unlock()
}

// ObserveDuration 累加阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	metrics.mu.Lock()
	metrics.dur[key(comp, stage)] += durMS
	metrics.mu.Unlock()
}

// Snapshot 返回当前指标的扁平拷贝，键形如 "op_total/comp/stage/result"。
func Snapshot() map[string]int64 {
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	out := make(map[string]int64, len(metrics.ops)+len(metrics.err)+len(metrics.dur))
	for k, v := range metrics.ops {
		out["op_total/"+k] = v
	}
	for k, v := range metrics.err {
		out["error_total/"+k] = v
	}
	for k, v := range metrics.dur {
		out["op_duration_ms/"+k] = v
	}
	return out
}

// SnapshotKV 将快照转为字符串键值（供日志 kv 字段）。
func SnapshotKV() map[string]string {
	snap := Snapshot()
	kv := make(map[string]string, len(snap))
	for k, v := range snap {
		kv[k] = strconv.FormatInt(v, 10)
	}
	return kv
}

// ResetMetrics 清空全部计数（测试用）。
func ResetMetrics() {
	metrics.mu.Lock()
	metrics.ops = map[string]int64{}
	metrics.err = map[string]int64{}
	metrics.dur = map[string]int64{}
	metrics.mu.Unlock()
}
