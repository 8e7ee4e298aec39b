package config

import "encoding/json"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 构建模式：fs 试验目录 + tsv 候选表 + sigproc 文件头，输出 .npy 到 ./out；
// - 回放模式：文件页来源 + mock 分类器（离线调试友好）；
// - 选项覆盖各内置实现的全部键，值为安全中性默认。
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := d
	cfg.TrialsDir = "trials"
	cfg.Stream.MaxRetries = 2
	cfg.Stream.Limits = Limits{RPM: 600, BPM: 0, MaxBytesPerReq: 0}

	// Options：包含所有键（值可为空/默认），确保键存在。
	cfg.Options.Trials = json.RawMessage(`{
  "pattern": "*.dat",
  "recursive": false,
  "buf_size": 65536,
  "exclude_dir_names": []
}`)
	cfg.Options.Candidates = json.RawMessage(`{
  "path": "candidates.tsv"
}`)
	cfg.Options.Header = json.RawMessage(`{
  "path": "observation.fil"
}`)
	cfg.Options.Writer = json.RawMessage(`{
  "output_dir": "out",
  "atomic": true,
  "manifest": true,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	cfg.Options.Pages = json.RawMessage(`{
  "path": "pages.raw",
  "page_bytes": 1048576
}`)
	cfg.Options.Classifier = json.RawMessage(`{
  "mode": "constant",
  "class": 0,
  "threshold": 0
}`)
	return cfg
}

// TemplateTOML 为 --init-config 生成的 TOML 模板（与 DefaultTemplateConfig 等价，附注释）。
const TemplateTOML = `# dmtset 配置。优先级：默认 < 本文件 < 环境变量(DMTSET_*) < 命令行。
name = ""
trials_dir = "trials"
ntsamples = 1
window_width = 256
seed = 0
max_attempts = 1000000
skip_out_of_range = true

[dm_ranges]
pulses = [1.0, 10000.0]

[logging]
level = "info"

[components]
trials = "fs"
candidates = "tsv"
header = "sigproc"    # 或 static
writer = "npy"
pages = "file"        # 或 redis
classifier = "mock"   # 或 tfserving / flaky

[options.trials]
pattern = "*.dat"
recursive = false
buf_size = 65536
exclude_dir_names = []

[options.candidates]
path = "candidates.tsv"

[options.header]
path = "observation.fil"

[options.writer]
output_dir = "out"
atomic = true
manifest = true

[options.pages]
path = "pages.raw"
page_bytes = 1048576

[options.classifier]
mode = "constant"
class = 0

[stream]
pages = 0
num_dms = 256
max_retries = 2

[stream.limits]
rpm = 600
bpm = 0
max_bytes_per_req = 0
`

// TemplateEnv 为 .env 模板：列出全部受支持的环境变量键。
const TemplateEnv = `# dmtset 环境变量（由 godotenv 从 .env 读取；已存在的进程环境优先）
# DMTSET_CONFIG_FILE=dmtset.toml
# DMTSET_CONFIG_JSON=
# DMTSET_NAME=
# DMTSET_TRIALS_DIR=
# DMTSET_NTSAMPLES=1
# DMTSET_WINDOW_WIDTH=256
# DMTSET_SEED=0
# DMTSET_MAX_ATTEMPTS=1000000
# DMTSET_SKIP_OUT_OF_RANGE=true
# DMTSET_DM_RANGES_PULSES=1,10000
# DMTSET_LOG_LEVEL=info
# DMTSET_COMPONENTS_TRIALS=fs
# DMTSET_COMPONENTS_CANDIDATES=tsv
# DMTSET_COMPONENTS_HEADER=sigproc
# DMTSET_COMPONENTS_WRITER=npy
# DMTSET_COMPONENTS_PAGES=file
# DMTSET_COMPONENTS_CLASSIFIER=mock
# DMTSET_OPTIONS_TRIALS_JSON=
# DMTSET_OPTIONS_CANDIDATES_JSON=
# DMTSET_OPTIONS_HEADER_JSON=
# DMTSET_OPTIONS_WRITER_JSON=
# DMTSET_OPTIONS_PAGES_JSON=
# DMTSET_OPTIONS_CLASSIFIER_JSON=
# DMTSET_STREAM_PAGES=0
# DMTSET_STREAM_NUM_DMS=256
# DMTSET_STREAM_MAX_RETRIES=2
# DMTSET_STREAM_LIMITS_RPM=600
# DMTSET_STREAM_LIMITS_BPM=0
# DMTSET_STREAM_LIMITS_MAX_BYTES_PER_REQ=0
# TFSERVING_API_KEY=
`
