package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON/TOML 使用 snake_case；未知字段在解析期失败。
type Config struct {
	// Name: 输出文件名前缀；空则使用文件头 basename。
	Name      string `json:"name"`
	TrialsDir string `json:"trials_dir"`
	// NTSamples: 每个候选体生成的平移窗口数（偏移 0..n-1）。
	NTSamples   int   `json:"ntsamples"`
	WindowWidth int   `json:"window_width"`
	Seed        int64 `json:"seed"`
	// MaxAttempts: 负样本采样的总抽取上限。
	MaxAttempts int `json:"max_attempts"`
	// SkipOutOfRange: 候选体越界时跳过（true）或致命（false）。指针区分“未设置”。
	SkipOutOfRange *bool    `json:"skip_out_of_range"`
	DMRanges       DMRanges `json:"dm_ranges"`
	Logging        Logging  `json:"logging"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`

	// Stream: 流式推理回放设置。
	Stream Stream `json:"stream"`
}

// DMRanges: 脉冲候选 DM 闭区间 [pulses[0], pulses[1]]。
type DMRanges struct {
	Pulses []float64 `json:"pulses"`
}

// Logging: 仅保留日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Trials     string `json:"trials"`
	Candidates string `json:"candidates"`
	Header     string `json:"header"`
	Writer     string `json:"writer"`
	Pages      string `json:"pages"`
	Classifier string `json:"classifier"`
}

// Options: 各组件的原样 JSON Options。
// TOML 文件中的 [options.*] 子表在加载时转为 JSON（见 LoadTOML）。
type Options struct {
	Trials     json.RawMessage `json:"trials"`
	Candidates json.RawMessage `json:"candidates"`
	Header     json.RawMessage `json:"header"`
	Writer     json.RawMessage `json:"writer"`
	Pages      json.RawMessage `json:"pages"`
	Classifier json.RawMessage `json:"classifier"`
}

// Stream: 推理回放的页数、DM 行数、重试与限额。
type Stream struct {
	Pages  int `json:"pages"`
	NumDMs int `json:"num_dms"`
	// MaxRetries: 分类调用最大重试次数（>=0）。0 表示不重试。
	MaxRetries int    `json:"max_retries"`
	Limits     Limits `json:"limits"`
}

// Limits: 限流配置（仅承载；执行位于 rate.Gate）。
type Limits struct {
	RPM            int `json:"rpm"`
	BPM            int `json:"bpm"`
	MaxBytesPerReq int `json:"max_bytes_per_req"`
}
