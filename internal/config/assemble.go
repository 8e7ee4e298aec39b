package config

import (
	"errors"
	"fmt"
	"strings"

	"dmtset/internal/dmtime"
	"dmtset/internal/pipeline"
	"dmtset/internal/rate"
	"dmtset/internal/stream"
	"dmtset/pkg/contract"
	"dmtset/pkg/registry"
)

// Validate 对最小必要边界做静态校验（构建与回放共用的部分）。
func Validate(cfg Config) error {
	if cfg.NTSamples < 1 {
		return invalid("ntsamples must be >= 1 (got %d)", cfg.NTSamples)
	}
	if cfg.WindowWidth < 1 {
		return invalid("window_width must be >= 1 (got %d)", cfg.WindowWidth)
	}
	if cfg.MaxAttempts < 1 {
		return invalid("max_attempts must be >= 1 (got %d)", cfg.MaxAttempts)
	}
	if len(cfg.DMRanges.Pulses) != 2 {
		return invalid("dm_ranges.pulses needs exactly 2 values (got %d)", len(cfg.DMRanges.Pulses))
	}
	if cfg.DMRanges.Pulses[0] > cfg.DMRanges.Pulses[1] {
		return invalid("dm_ranges.pulses low %g > high %g", cfg.DMRanges.Pulses[0], cfg.DMRanges.Pulses[1])
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "debug", "info", "warn", "error":
	default:
		return invalid("logging.level %q unknown", cfg.Logging.Level)
	}
	if cfg.Stream.NumDMs < 1 {
		return invalid("stream.num_dms must be >= 1 (got %d)", cfg.Stream.NumDMs)
	}
	if cfg.Stream.Pages < 0 {
		return invalid("stream.pages must be >= 0 (got %d)", cfg.Stream.Pages)
	}
	if cfg.Stream.MaxRetries < 0 {
		return invalid("stream.max_retries must be >= 0 (got %d)", cfg.Stream.MaxRetries)
	}
	l := cfg.Stream.Limits
	if l.RPM < 0 || l.BPM < 0 || l.MaxBytesPerReq < 0 {
		return invalid("stream.limits must be >= 0")
	}
	// 组件名若为空，使用默认名（由 Defaults() 提供）。此处只要最终有值即可。
	d := Defaults().Components
	if name := effName(cfg.Components.Trials, d.Trials); registry.Trials[name] == nil {
		return invalid("trials %q not registered", name)
	}
	if name := effName(cfg.Components.Candidates, d.Candidates); registry.Candidates[name] == nil {
		return invalid("candidates %q not registered", name)
	}
	if name := effName(cfg.Components.Header, d.Header); registry.Header[name] == nil {
		return invalid("header %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, d.Writer); registry.Writer[name] == nil {
		return invalid("writer %q not registered", name)
	}
	if name := effName(cfg.Components.Pages, d.Pages); registry.Pages[name] == nil {
		return invalid("pages %q not registered", name)
	}
	if name := effName(cfg.Components.Classifier, d.Classifier); registry.Classifier[name] == nil {
		return invalid("classifier %q not registered", name)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("config: %w: %s", contract.ErrInvalidInput, fmt.Sprintf(format, args...))
}

// AssembleBuild 构造构建模式的 Components 与 Settings。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
func AssembleBuild(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	if strings.TrimSpace(cfg.TrialsDir) == "" {
		return pipeline.Components{}, pipeline.Settings{}, errors.New("config: trials_dir not set")
	}

	d := Defaults().Components
	tr, err := registry.Trials[effName(cfg.Components.Trials, d.Trials)](cfg.Options.Trials)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: trials: %w", err)
	}
	cs, err := registry.Candidates[effName(cfg.Components.Candidates, d.Candidates)](cfg.Options.Candidates)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: candidates: %w", err)
	}
	hd, err := registry.Header[effName(cfg.Components.Header, d.Header)](cfg.Options.Header)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: header: %w", err)
	}
	w, err := registry.Writer[effName(cfg.Components.Writer, d.Writer)](cfg.Options.Writer)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: writer: %w", err)
	}

	comp := pipeline.Components{Trials: tr, Candidates: cs, Header: hd, Writer: w}
	set := pipeline.Settings{
		Name:           cfg.Name,
		TrialsDir:      strings.TrimSpace(cfg.TrialsDir),
		NTSamples:      cfg.NTSamples,
		Width:          cfg.WindowWidth,
		Seed:           cfg.Seed,
		MaxAttempts:    cfg.MaxAttempts,
		SkipOutOfRange: cfg.SkipOutOfRange == nil || *cfg.SkipOutOfRange,
		Pulse:          dmtime.PulseRange{Low: cfg.DMRanges.Pulses[0], High: cfg.DMRanges.Pulses[1]},
	}
	return comp, set, nil
}

// AssembleInfer 构造回放模式的 Components、Settings 与限流 Gate。
// 页来源构造即打开，调用方负责 Close。
func AssembleInfer(cfg Config) (stream.Components, stream.Settings, error) {
	if err := Validate(cfg); err != nil {
		return stream.Components{}, stream.Settings{}, err
	}
	d := Defaults().Components
	cn := effName(cfg.Components.Classifier, d.Classifier)
	cls, err := registry.Classifier[cn](cfg.Options.Classifier)
	if err != nil {
		return stream.Components{}, stream.Settings{}, fmt.Errorf("config: classifier: %w", err)
	}
	w, err := registry.Writer[effName(cfg.Components.Writer, d.Writer)](cfg.Options.Writer)
	if err != nil {
		return stream.Components{}, stream.Settings{}, fmt.Errorf("config: writer: %w", err)
	}

	// 限流 Gate（按 stream.limits 构造；分组键从分类服务 options 派生）
	key, derr := rate.DeriveKey(cn, cfg.Options.Classifier)
	if derr != nil {
		key = rate.LimitKey(cn)
	}
	lim := cfg.Stream.Limits
	gate := rate.NewGate(key, rate.Limits{RPM: lim.RPM, BPM: lim.BPM, MaxBytesPerReq: lim.MaxBytesPerReq})

	// 页来源最后构造：前面任一步失败时无需回收连接/文件句柄。
	pg, err := registry.Pages[effName(cfg.Components.Pages, d.Pages)](cfg.Options.Pages)
	if err != nil {
		return stream.Components{}, stream.Settings{}, fmt.Errorf("config: pages: %w", err)
	}

	comp := stream.Components{Pages: pg, Classifier: cls, Writer: w}
	set := stream.Settings{
		Pages:      cfg.Stream.Pages,
		NumDMs:     cfg.Stream.NumDMs,
		MaxRetries: cfg.Stream.MaxRetries,
		Gate:       gate,
		Output:     cfg.Name,
	}
	return comp, set, nil
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
