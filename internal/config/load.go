package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix 为环境变量覆盖的统一前缀。
const EnvPrefix = "DMTSET_"

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：trials_dir 与候选表路径不设默认（必须由文件/ENV/CLI 提供）。
func Defaults() Config {
	skip := true
	return Config{
		NTSamples:      1,
		WindowWidth:    256,
		MaxAttempts:    1_000_000,
		SkipOutOfRange: &skip,
		DMRanges:       DMRanges{Pulses: []float64{1, 10000}},
		Logging:        Logging{Level: "info"},
		Components: Components{
			Trials:     "fs",
			Candidates: "tsv",
			Header:     "sigproc",
			Writer:     "npy",
			Pages:      "file",
			Classifier: "mock",
		},
		Stream: Stream{NumDMs: 256},
	}
}

// Load 依据扩展名选择解析器：.toml 走 LoadTOML，其余按 JSON。
func Load(path string) (Config, error) {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return LoadTOML(path, nil)
	}
	return LoadJSON(path, nil)
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadTOML 从文件路径或原始 TOML 解析 Config。
// TOML 先解码为通用表，再转 JSON 走 LoadJSON，使 options 子树与未知字段规则与 JSON 一致。
func LoadTOML(path string, raw []byte) (Config, error) {
	if len(raw) == 0 {
		if path == "" {
			return Config{}, errors.New("no config source provided")
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		raw = b
	}
	var tree map[string]any
	if err := toml.Unmarshal(raw, &tree); err != nil {
		return Config{}, fmt.Errorf("toml: %w", err)
	}
	js, err := json.Marshal(tree)
	if err != nil {
		return Config{}, fmt.Errorf("toml: %w", err)
	}
	return LoadJSON("", js)
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。零值视为未覆盖。
func Merge(base, over Config) Config {
	out := base
	if strings.TrimSpace(over.Name) != "" {
		out.Name = strings.TrimSpace(over.Name)
	}
	if strings.TrimSpace(over.TrialsDir) != "" {
		out.TrialsDir = strings.TrimSpace(over.TrialsDir)
	}
	if over.NTSamples != 0 {
		out.NTSamples = over.NTSamples
	}
	if over.WindowWidth != 0 {
		out.WindowWidth = over.WindowWidth
	}
	if over.Seed != 0 {
		out.Seed = over.Seed
	}
	if over.MaxAttempts != 0 {
		out.MaxAttempts = over.MaxAttempts
	}
	// false 具有语义（越界即失败），以指针区分“未设置”。
	if over.SkipOutOfRange != nil {
		v := *over.SkipOutOfRange
		out.SkipOutOfRange = &v
	}
	if len(over.DMRanges.Pulses) > 0 {
		out.DMRanges.Pulses = append([]float64(nil), over.DMRanges.Pulses...)
	}
	// Logging（仅 level）
	if strings.TrimSpace(over.Logging.Level) != "" {
		out.Logging.Level = strings.TrimSpace(over.Logging.Level)
	}

	// 组件名（空不覆盖）
	mergeName(&out.Components.Trials, over.Components.Trials)
	mergeName(&out.Components.Candidates, over.Components.Candidates)
	mergeName(&out.Components.Header, over.Components.Header)
	mergeName(&out.Components.Writer, over.Components.Writer)
	mergeName(&out.Components.Pages, over.Components.Pages)
	mergeName(&out.Components.Classifier, over.Components.Classifier)

	// Options（完整替换对应键）
	mergeRaw(&out.Options.Trials, over.Options.Trials)
	mergeRaw(&out.Options.Candidates, over.Options.Candidates)
	mergeRaw(&out.Options.Header, over.Options.Header)
	mergeRaw(&out.Options.Writer, over.Options.Writer)
	mergeRaw(&out.Options.Pages, over.Options.Pages)
	mergeRaw(&out.Options.Classifier, over.Options.Classifier)

	// Stream
	if over.Stream.Pages != 0 {
		out.Stream.Pages = over.Stream.Pages
	}
	if over.Stream.NumDMs != 0 {
		out.Stream.NumDMs = over.Stream.NumDMs
	}
	// MaxRetries 的 0 具有语义（禁用重试）；约定 -1 表示未覆盖。
	if over.Stream.MaxRetries >= 0 {
		out.Stream.MaxRetries = over.Stream.MaxRetries
	}
	if over.Stream.Limits.RPM != 0 {
		out.Stream.Limits.RPM = over.Stream.Limits.RPM
	}
	if over.Stream.Limits.BPM != 0 {
		out.Stream.Limits.BPM = over.Stream.Limits.BPM
	}
	if over.Stream.Limits.MaxBytesPerReq != 0 {
		out.Stream.Limits.MaxBytesPerReq = over.Stream.Limits.MaxBytesPerReq
	}
	return out
}

func mergeName(dst *string, over string) {
	if v := strings.TrimSpace(over); v != "" {
		*dst = v
	}
}

func mergeRaw(dst *json.RawMessage, over json.RawMessage) {
	if len(over) > 0 {
		*dst = cloneRaw(over)
	}
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 DMTSET_；集合之外的键与空值忽略。
// 支持：NAME, TRIALS_DIR, NTSAMPLES, WINDOW_WIDTH, SEED, MAX_ATTEMPTS, SKIP_OUT_OF_RANGE,
// DM_RANGES_PULSES(逗号分隔两值), LOG_LEVEL, COMPONENTS_*, OPTIONS_*_JSON,
// STREAM_PAGES, STREAM_NUM_DMS, STREAM_MAX_RETRIES, STREAM_LIMITS_{RPM,BPM,MAX_BYTES_PER_REQ}。
// 数值解析失败返回错误（配置错误，不静默忽略）。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	// -1 表示未设置，以便 Merge 能区分“未覆盖”和“显式设置为 0”。
	over.Stream.MaxRetries = -1
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		nk := kv[len(EnvPrefix):eq]
		val := strings.TrimSpace(kv[eq+1:])
		if val == "" {
			// 空值视为未设置（.env 模板中的占位键）。
			continue
		}
		var err error
		switch nk {
		case "NAME":
			over.Name = val
		case "TRIALS_DIR":
			over.TrialsDir = val
		case "NTSAMPLES":
			over.NTSamples, err = atoi(val)
		case "WINDOW_WIDTH":
			over.WindowWidth, err = atoi(val)
		case "SEED":
			over.Seed, err = strconv.ParseInt(val, 10, 64)
		case "MAX_ATTEMPTS":
			over.MaxAttempts, err = atoi(val)
		case "SKIP_OUT_OF_RANGE":
			var b bool
			if b, err = strconv.ParseBool(val); err == nil {
				over.SkipOutOfRange = &b
			}
		case "DM_RANGES_PULSES":
			over.DMRanges.Pulses, err = parseFloats(val)
		case "LOG_LEVEL":
			over.Logging.Level = val
		case "COMPONENTS_TRIALS":
			over.Components.Trials = val
		case "COMPONENTS_CANDIDATES":
			over.Components.Candidates = val
		case "COMPONENTS_HEADER":
			over.Components.Header = val
		case "COMPONENTS_WRITER":
			over.Components.Writer = val
		case "COMPONENTS_PAGES":
			over.Components.Pages = val
		case "COMPONENTS_CLASSIFIER":
			over.Components.Classifier = val
		case "OPTIONS_TRIALS_JSON":
			over.Options.Trials = rawOrNil(val)
		case "OPTIONS_CANDIDATES_JSON":
			over.Options.Candidates = rawOrNil(val)
		case "OPTIONS_HEADER_JSON":
			over.Options.Header = rawOrNil(val)
		case "OPTIONS_WRITER_JSON":
			over.Options.Writer = rawOrNil(val)
		case "OPTIONS_PAGES_JSON":
			over.Options.Pages = rawOrNil(val)
		case "OPTIONS_CLASSIFIER_JSON":
			over.Options.Classifier = rawOrNil(val)
		case "STREAM_PAGES":
			over.Stream.Pages, err = atoi(val)
		case "STREAM_NUM_DMS":
			over.Stream.NumDMs, err = atoi(val)
		case "STREAM_MAX_RETRIES":
			over.Stream.MaxRetries, err = atoi(val)
		case "STREAM_LIMITS_RPM":
			over.Stream.Limits.RPM, err = atoi(val)
		case "STREAM_LIMITS_BPM":
			over.Stream.Limits.BPM, err = atoi(val)
		case "STREAM_LIMITS_MAX_BYTES_PER_REQ":
			over.Stream.Limits.MaxBytesPerReq, err = atoi(val)
		default:
			// CONFIG_FILE/CONFIG_JSON 等由 CLI 层处理。
		}
		if err != nil {
			return Config{}, fmt.Errorf("config: env %s%s: %w", EnvPrefix, nk, err)
		}
	}
	return over, nil
}

// rawOrNil: 空值视为未设置，避免清空已有 options。
func rawOrNil(v string) json.RawMessage {
	if v == "" {
		return nil
	}
	return json.RawMessage(v)
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseFloats(s string) ([]float64, error) {
	parts := splitComma(s)
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
