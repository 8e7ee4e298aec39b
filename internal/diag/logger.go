package diag

import (
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 级别定义
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

func (l Level) zap() zapcore.Level {
	switch l {
	case Debug:
		return zapcore.DebugLevel
	case Warn:
		return zapcore.WarnLevel
	case Error:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger 为结构化事件日志器：zap JSON 编码，写入轮转文件。
// 事件字段固定：comp/stage/code/dur_ms/count/file_id/item/kv。
type Logger struct {
	corrID string
	level  Level
	sink   *RotatingFile
	z      *zap.Logger
}

// NewLogger 通过配置的 level 初始化，日志写入 logs/dmtset-current.txt，10MiB 轮转。
func NewLogger(corrID, level string) *Logger {
	sink := NewRotatingFile("logs", 10*1024*1024)
	l := NewLoggerTo(corrID, level, sink)
	l.sink = sink
	return l
}

// NewLoggerTo 将日志写入任意 WriteSyncer（测试或 stderr）。
func NewLoggerTo(corrID, level string, ws zapcore.WriteSyncer) *Logger {
	lvl := parseLevel(strings.TrimSpace(level))
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.MessageKey = "msg"
	enc.EncodeTime = zapcore.RFC3339TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), ws, zap.NewAtomicLevelAt(lvl.zap()))
	z := zap.New(core).With(zap.String("corr_id", corrID))
	return &Logger{corrID: corrID, level: lvl, z: z}
}

// Nop 返回丢弃一切输出的日志器。
func Nop() *Logger {
	return &Logger{level: Error, z: zap.NewNop()}
}

func parseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return Debug
	case "warn":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

// Event 为标准事件结构。
type Event struct {
	Comp   string
	Stage  string // start|finish|warn|error
	Code   string
	DurMS  int64
	Count  int64
	FileID string
	Item   string
	Msg    string
	KV     map[string]string
}

func (ev Event) fields() []zap.Field {
	fs := make([]zap.Field, 0, 8)
	fs = append(fs, zap.String("comp", ev.Comp), zap.String("stage", ev.Stage))
	if ev.Code != "" {
		fs = append(fs, zap.String("code", ev.Code))
	}
	if ev.DurMS != 0 {
		fs = append(fs, zap.Int64("dur_ms", ev.DurMS))
	}
	if ev.Count != 0 {
		fs = append(fs, zap.Int64("count", ev.Count))
	}
	if ev.FileID != "" {
		fs = append(fs, zap.String("file_id", ev.FileID))
	}
	if ev.Item != "" {
		fs = append(fs, zap.String("item", ev.Item))
	}
	if len(ev.KV) > 0 {
		fs = append(fs, zap.Any("kv", ev.KV))
	}
	return fs
}

func (l *Logger) log(lv Level, ev Event) {
	if l == nil || l.z == nil {
		return
	}
	if ce := l.z.Check(lv.zap(), ev.Msg); ce != nil {
		ce.Write(ev.fields()...)
	}
}

// Sync 刷新底层 sink。
func (l *Logger) Sync() error {
	if l == nil || l.z == nil {
		return nil
	}
	return l.z.Sync()
}

// Close 刷新并关闭文件 sink（若有）。
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	_ = l.Sync()
	if l.sink != nil {
		return l.sink.Close()
	}
	return nil
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", Msg: msg})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWith 记录带 file_id/item 的 start。
func (l *Logger) StartWith(comp, msg, fileID, item string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", FileID: fileID, Item: item, Msg: msg})
	return &Timer{l: l, comp: comp, fileID: fileID, item: item, t0: time.Now()}
}

// StartWithKV 记录带 file_id/item 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, fileID, item string, kv map[string]string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", FileID: fileID, Item: item, Msg: msg, KV: kv})
	return &Timer{l: l, comp: comp, fileID: fileID, item: item, t0: time.Now()}
}

// Warn 记录可恢复的问题（如跳过的候选行）。
func (l *Logger) Warn(comp, code, msg string) {
	l.log(Warn, Event{Comp: comp, Stage: "warn", Code: code, Msg: msg})
}

// WarnWithKV 支持附带键值对。
func (l *Logger) WarnWithKV(comp, code, msg, item string, kv map[string]string) {
	l.log(Warn, Event{Comp: comp, Stage: "warn", Code: code, Item: item, Msg: msg, KV: kv})
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.log(Error, Event{Comp: comp, Stage: "error", Code: code, DurMS: since(durSince), Msg: msg})
}

// ErrorWith 支持 file_id/item。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, fileID, item string) {
	l.log(Error, Event{Comp: comp, Stage: "error", Code: code, DurMS: since(durSince), Msg: msg, FileID: fileID, Item: item})
}

// ErrorWithKV 支持附带键值对（例如 HTTP 状态码、上游错误片段）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, fileID, item string, kv map[string]string) {
	l.log(Error, Event{Comp: comp, Stage: "error", Code: code, DurMS: since(durSince), Msg: msg, FileID: fileID, Item: item, KV: kv})
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(Info, Event{Comp: comp, Stage: "finish", DurMS: time.Since(start).Milliseconds(), Count: count, Msg: msg})
}

// DebugStart 输出调试级别的 start 类事件（仅在 level=debug 时生效）。
func (l *Logger) DebugStart(comp, msg, fileID, item string, kv map[string]string) {
	l.log(Debug, Event{Comp: comp, Stage: "start", FileID: fileID, Item: item, Msg: msg, KV: kv})
}

func since(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return time.Since(*t).Milliseconds()
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l      *Logger
	comp   string
	fileID string
	item   string
	t0     time.Time
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	t.l.log(Info, Event{Comp: t.comp, Stage: "finish", DurMS: time.Since(t.t0).Milliseconds(), Count: count, FileID: t.fileID, Item: t.item, Msg: msg})
}

// Since 返回计时起点。
func (t *Timer) Since() time.Time {
	if t == nil {
		return time.Now()
	}
	return t.t0
}
