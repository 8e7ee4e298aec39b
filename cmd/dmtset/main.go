package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	cfgpkg "dmtset/internal/config"
	"dmtset/internal/diag"
	"dmtset/internal/pipeline"
	"dmtset/internal/stream"
)

var (
	buildRun = pipeline.Run
	inferRun = stream.Run
)

const usage = `用法:
  dmtset [build] [flags] 从试验目录与候选表构建 DM-Time 数据集
  dmtset infer [flags]   回放页流并写出 predictions.npy
  dmtset --init-config [dir]
`

// 退出码：0 成功；1 运行期错误；3 配置/装配错误（含试验目录的配置类错误）。
func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	start := time.Now()
	corrID := uuid.NewString()
	// 在任何 ENV 读取前，尝试加载工作目录下的 .env（不覆盖已有 ENV）。
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fprintf(os.Stderr, "提示：.env 读取失败（已跳过）：%v\n", err)
	}
	logLevel := "info"
	// 先占位默认，稍后在解析/合并配置后重建 logger 以使用最终 level
	logger := diag.NewLogger(corrID, logLevel)
	defer func() { _ = logger.Close() }()

	args = normalizeInitArg(args)
	// 未给出子命令时默认 build
	command := "build"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet("dmtset "+command, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var (
		flagConfig     string
		flagInitDir    string
		flagName       string
		flagTrials     string
		flagNTSamples  int
		flagWindow     int
		flagSeed       int64
		flagPages      int
		flagNumDMs     int
		flagMaxRetries int
		flagStatus     bool
	)
	fs.StringVar(&flagConfig, "config", "", "配置文件路径（.toml 或 JSON）；缺省读取 ./dmtset.toml 或 ./config.json（若存在）")
	fs.StringVar(&flagInitDir, "init-config", "", "在指定目录生成 dmtset.toml 与 .env 模板（已存在则失败，不覆盖）；不带值时默认当前目录")
	fs.StringVar(&flagName, "name", "", "输出文件名前缀（覆盖配置）")
	fs.StringVar(&flagTrials, "trials", "", "试验文件目录（覆盖配置）")
	fs.IntVar(&flagNTSamples, "ntsamples", 0, "每个候选体的平移窗口数（覆盖配置）")
	fs.IntVar(&flagWindow, "window", 0, "窗口宽度（覆盖配置）")
	fs.Int64Var(&flagSeed, "seed", 0, "随机种子（覆盖配置）")
	fs.IntVar(&flagPages, "pages", 0, "infer: 处理页数上限（覆盖配置；0 表示直到来源耗尽）")
	fs.IntVar(&flagNumDMs, "num-dms", 0, "infer: 每页 DM 行数（覆盖配置）")
	// max-retries 允许显式设置为 0；默认 -1 表示“未覆盖”。
	fs.IntVar(&flagMaxRetries, "max-retries", -1, "infer: 分类调用最大重试次数（覆盖配置；0 表示不重试）")
	fs.BoolVar(&flagStatus, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
	fs.Usage = func() {
		fprintf(os.Stderr, "%s", usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 3
	}
	seedSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			seedSet = true
		}
	})

	// --init-config: 生成模板并退出
	if initDir := strings.TrimSpace(flagInitDir); initDir != "" {
		if err := writeTemplates(initDir); err != nil {
			fprintf(os.Stderr, "生成默认配置失败: %v\n", err)
			logger.Error("cli", string(diag.Classify(err)), "first error", &start)
			return 3
		}
		return 0
	}
	if command != "build" && command != "infer" {
		fprintf(os.Stderr, "未知子命令 %q\n%s", command, usage)
		return 3
	}
	if fs.NArg() > 0 {
		fprintf(os.Stderr, "多余的参数: %v\n", fs.Args())
		return 3
	}

	// 配置：默认 < 文件/ENV JSON < ENV 覆盖 < CLI
	cfg, err := loadConfig(flagConfig)
	if err != nil {
		fprintf(os.Stderr, "配置解析失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return 3
	}
	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		fprintf(os.Stderr, "环境变量解析失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return 3
	}
	cfg = cfgpkg.Merge(cfg, overEnv)

	var overCLI cfgpkg.Config
	// 标记 MaxRetries 未设置（避免默认 0 被误判为要覆盖）
	overCLI.Stream.MaxRetries = flagMaxRetries
	overCLI.Name = flagName
	overCLI.TrialsDir = flagTrials
	overCLI.NTSamples = flagNTSamples
	overCLI.WindowWidth = flagWindow
	overCLI.Stream.Pages = flagPages
	overCLI.Stream.NumDMs = flagNumDMs
	cfg = cfgpkg.Merge(cfg, overCLI)
	// 0 是合法种子：显式给出时直接覆盖。
	if seedSet {
		cfg.Seed = flagSeed
	}

	if err := cfgpkg.Validate(cfg); err != nil {
		fprintf(os.Stderr, "配置校验失败: %v\n", err)
		// 提示打印有效配置，便于诊断
		_ = dumpConfig(os.Stderr, cfg)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return 3
	}

	// 使用最终配置中的日志级别重建 logger
	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" && lv != logLevel {
		_ = logger.Close()
		logger = diag.NewLogger(corrID, lv)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	term := diag.NewTerminal(os.Stderr, flagStatus)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)

	var code int
	switch command {
	case "build":
		code = runBuild(ctx, cfg, logger, term, start)
	case "infer":
		code = runInfer(ctx, cfg, logger, term, start)
	}
	logger.DebugStart("metrics", "snapshot", "", "", diag.SnapshotKV())
	return code
}

func runBuild(ctx context.Context, cfg cfgpkg.Config, logger *diag.Logger, term *diag.Terminal, start time.Time) int {
	comp, set, err := cfgpkg.AssembleBuild(cfg)
	if err != nil {
		fprintf(os.Stderr, "装配失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return 3
	}
	logger.DebugStart("config", "effective", "", "", map[string]string{
		"command":           "build",
		"trials_dir":        set.TrialsDir,
		"ntsamples":         strconv.Itoa(set.NTSamples),
		"window_width":      strconv.Itoa(set.Width),
		"seed":              strconv.FormatInt(set.Seed, 10),
		"skip_out_of_range": strconv.FormatBool(set.SkipOutOfRange),
		"pulse_dm":          fmt.Sprintf("%g..%g", set.Pulse.Low, set.Pulse.High),
		"trials":            cfg.Components.Trials,
		"candidates":        cfg.Components.Candidates,
		"header":            cfg.Components.Header,
		"writer":            cfg.Components.Writer,
	})
	if term != nil {
		term.RunStart("build", set.TrialsDir)
	}
	t := logger.Start("pipeline", "build")
	res, err := buildRun(ctx, comp, set, logger)
	if err != nil {
		return finishFailed(logger, term, "pipeline", err, start)
	}
	t.Finish("build", int64(len(res.Artifacts)))
	logger.DebugStart("pipeline", "summary", "", res.Name, map[string]string{
		"pulse":   strconv.Itoa(res.Pulse),
		"zero_dm": strconv.Itoa(res.ZeroDM),
		"random":  strconv.Itoa(res.Random),
		"skipped": strconv.Itoa(res.Skipped),
	})
	return finishOK(logger, term, "pipeline", start)
}

func runInfer(ctx context.Context, cfg cfgpkg.Config, logger *diag.Logger, term *diag.Terminal, start time.Time) int {
	comp, set, err := cfgpkg.AssembleInfer(cfg)
	if err != nil {
		fprintf(os.Stderr, "装配失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return 3
	}
	defer func() {
		if err := comp.Pages.Close(); err != nil {
			logger.Warn("pages", string(diag.Classify(err)), "close failed: "+err.Error())
		}
	}()
	kv := map[string]string{
		"command":     "infer",
		"pages":       strconv.Itoa(set.Pages),
		"num_dms":     strconv.Itoa(set.NumDMs),
		"max_retries": strconv.Itoa(set.MaxRetries),
		"gate_key":    string(set.Gate.Key()),
		"pages_impl":  cfg.Components.Pages,
		"classifier":  cfg.Components.Classifier,
	}
	// 提取分类服务关键信息（不含密钥）
	var small struct {
		BaseURL string `json:"base_url"`
		Model   string `json:"model"`
	}
	_ = json.Unmarshal(cfg.Options.Classifier, &small)
	if small.BaseURL != "" {
		kv["base_url"] = small.BaseURL
	}
	if small.Model != "" {
		kv["model"] = small.Model
	}
	logger.DebugStart("config", "effective", "", "", kv)

	if term != nil {
		term.RunStart("infer", cfg.Components.Pages+" → "+cfg.Components.Classifier)
	}
	t := logger.Start("stream", "infer")
	res, err := inferRun(ctx, comp, set, logger)
	if err != nil {
		return finishFailed(logger, term, "stream", err, start)
	}
	t.Finish("infer", int64(len(res.Predictions)))
	return finishOK(logger, term, "stream", start)
}

func finishOK(logger *diag.Logger, term *diag.Terminal, comp string, start time.Time) int {
	logger.InfoFinish(comp, "run", start, 0)
	diag.IncOp(comp, "finish", "success")
	diag.ObserveDuration(comp, "finish", time.Since(start).Milliseconds())
	if term != nil {
		term.RunFinish(true, time.Since(start))
	}
	return 0
}

// finishFailed 分类到最接近的退出码：配置类错误 3，其余运行期错误 1。
func finishFailed(logger *diag.Logger, term *diag.Terminal, comp string, err error, start time.Time) int {
	code := diag.Classify(err)
	logger.Error(comp, string(code), "first error: "+err.Error(), &start)
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
	if !errors.Is(err, context.Canceled) {
		fprintf(os.Stderr, "运行失败: %v\n", err)
	}
	if term != nil {
		term.RunFinish(false, time.Since(start))
	}
	if code == diag.CodeConfig {
		return 3
	}
	return 1
}

// loadConfig: --config > DMTSET_CONFIG_FILE > DMTSET_CONFIG_JSON > ./dmtset.toml > ./config.json。
func loadConfig(path string) (cfgpkg.Config, error) {
	cfg := cfgpkg.Defaults()
	if path == "" {
		path = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	if path == "" {
		if s := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_JSON"); s != "" {
			base, err := cfgpkg.LoadJSON("", []byte(s))
			if err != nil {
				return cfg, err
			}
			return cfgpkg.Merge(cfg, base), nil
		}
		for _, p := range []string{"dmtset.toml", "config.json"} {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path == "" {
		return cfg, nil
	}
	base, err := cfgpkg.Load(path)
	if err != nil {
		return cfg, err
	}
	return cfgpkg.Merge(cfg, base), nil
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func dumpConfig(w io.Writer, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	_, _ = w.Write(append([]byte("有效配置:\n"), b...))
	_, _ = w.Write([]byte("\n"))
	return nil
}

// writeTemplates 在 dir 下生成 dmtset.toml；.env 已存在时跳过。
func writeTemplates(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeExclusive(filepath.Join(dir, "dmtset.toml"), cfgpkg.TemplateTOML); err != nil {
		return err
	}
	if err := writeExclusive(filepath.Join(dir, ".env"), cfgpkg.TemplateEnv); err != nil && !errors.Is(err, os.ErrExist) {
		fprintf(os.Stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
	}
	return nil
}

// writeExclusive 不覆盖已存在文件。
func writeExclusive(path, body string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(body); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// normalizeInitArg: 允许 --init-config 在未提供路径值时采用默认值当前目录 "."。
// 兼容以下形式：
//
//	--init-config                => 等价于 --init-config .
//	--init-config=out
//	--init-config out
func normalizeInitArg(args []string) []string {
	out := make([]string, 0, len(args)+1)
	for i, a := range args {
		out = append(out, a)
		if a == "--init-config" || a == "-init-config" {
			if i == len(args)-1 || strings.HasPrefix(args[i+1], "-") {
				out = append(out, ".")
			}
		}
	}
	return out
}
