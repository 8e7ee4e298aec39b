package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmtset/pkg/contract"
)

const basicJSON = `{
  "name": "obs1",
  "trials_dir": "trials",
  "ntsamples": 4,
  "window_width": 128,
  "seed": 42,
  "skip_out_of_range": false,
  "dm_ranges": {"pulses": [3, 500]},
  "components": {"header": "static", "classifier": "mock"},
  "options": {
    "header": {"basename": "obs1", "tstart": "60000", "tsamp": "0.000064"},
    "classifier": {"mode": "peak"}
  },
  "stream": {"num_dms": 64, "max_retries": 1, "limits": {"rpm": 30}}
}`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

// 解析完整 config.json
func TestLoadJSON(t *testing.T) {
	cfg, err := Load(writeFile(t, "dmtset.json", basicJSON))
	require.NoError(t, err)
	assert.Equal(t, "obs1", cfg.Name)
	assert.Equal(t, 4, cfg.NTSamples)
	assert.Equal(t, 128, cfg.WindowWidth)
	assert.Equal(t, int64(42), cfg.Seed)
	require.NotNil(t, cfg.SkipOutOfRange)
	assert.False(t, *cfg.SkipOutOfRange)
	assert.Equal(t, []float64{3, 500}, cfg.DMRanges.Pulses)
	assert.JSONEq(t, `{"mode":"peak"}`, string(cfg.Options.Classifier))

	merged := Merge(Defaults(), cfg)
	require.NoError(t, Validate(merged))
	assert.Equal(t, "fs", merged.Components.Trials, "默认组件名保留")
	assert.Equal(t, 1_000_000, merged.MaxAttempts)
}

// 含非法字段
func TestLoadJSONUnknown(t *testing.T) {
	_, err := LoadJSON("", []byte(`{"unknown":1}`))
	assert.Error(t, err)
	_, err = LoadJSON("", nil)
	assert.Error(t, err)
}

// TOML 与 JSON 等价；未知键同样拒绝
func TestLoadTOML(t *testing.T) {
	var tree map[string]any
	require.NoError(t, json.Unmarshal([]byte(basicJSON), &tree))
	raw, err := toml.Marshal(tree)
	require.NoError(t, err)

	fromTOML, err := Load(writeFile(t, "dmtset.toml", string(raw)))
	require.NoError(t, err)
	fromJSON, err := LoadJSON("", []byte(basicJSON))
	require.NoError(t, err)
	assert.Equal(t, fromJSON.Name, fromTOML.Name)
	assert.Equal(t, fromJSON.NTSamples, fromTOML.NTSamples)
	assert.Equal(t, fromJSON.Seed, fromTOML.Seed)
	assert.Equal(t, fromJSON.DMRanges, fromTOML.DMRanges)
	assert.Equal(t, fromJSON.Stream, fromTOML.Stream)
	assert.JSONEq(t, string(fromJSON.Options.Header), string(fromTOML.Options.Header))

	_, err = LoadTOML("", []byte("bogus = 1\n"))
	assert.Error(t, err)
	_, err = LoadTOML("", []byte("name = \n"))
	assert.Error(t, err)
}

// --init-config 模板可直接加载并通过校验
func TestTemplates(t *testing.T) {
	cfg, err := LoadTOML("", []byte(TemplateTOML))
	require.NoError(t, err)
	require.NoError(t, Validate(Merge(Defaults(), cfg)))
	tpl := DefaultTemplateConfig()
	require.NoError(t, Validate(tpl))
	assert.Equal(t, tpl.WindowWidth, cfg.WindowWidth)
	assert.Equal(t, tpl.Stream.Limits, cfg.Stream.Limits)
	assert.Contains(t, TemplateEnv, EnvPrefix+"TRIALS_DIR")
}

// ENV 覆盖部分字段
func TestEnvOverlay(t *testing.T) {
	env := []string{
		"DMTSET_TRIALS_DIR=/data/trials",
		"DMTSET_NTSAMPLES=3",
		"DMTSET_SEED=-9",
		"DMTSET_SKIP_OUT_OF_RANGE=false",
		"DMTSET_DM_RANGES_PULSES=2, 40",
		"DMTSET_COMPONENTS_CLASSIFIER=flaky",
		`DMTSET_OPTIONS_CLASSIFIER_JSON={"class":1}`,
		"DMTSET_STREAM_MAX_RETRIES=0",
		"DMTSET_STREAM_LIMITS_BPM=4096",
		"DMTSET_CONFIG_FILE=ignored.toml",
		"PATH=/bin",
	}
	over, err := EnvOverlay(env)
	require.NoError(t, err)
	assert.Equal(t, "/data/trials", over.TrialsDir)
	assert.Equal(t, 3, over.NTSamples)
	assert.Equal(t, int64(-9), over.Seed)
	require.NotNil(t, over.SkipOutOfRange)
	assert.False(t, *over.SkipOutOfRange)
	assert.Equal(t, []float64{2, 40}, over.DMRanges.Pulses)
	assert.Equal(t, "flaky", over.Components.Classifier)
	assert.Equal(t, 0, over.Stream.MaxRetries)
	assert.Equal(t, 4096, over.Stream.Limits.BPM)

	base := DefaultTemplateConfig()
	m := Merge(base, over)
	assert.Equal(t, 0, m.Stream.MaxRetries, "显式 0 覆盖模板的 2")
	assert.Equal(t, "flaky", m.Components.Classifier)
	assert.JSONEq(t, `{"class":1}`, string(m.Options.Classifier))
	assert.Equal(t, base.WindowWidth, m.WindowWidth)

	// 未设置的 max_retries 不覆盖
	over, err = EnvOverlay(nil)
	require.NoError(t, err)
	assert.Equal(t, 2, Merge(base, over).Stream.MaxRetries)
}

func TestEnvOverlayErrors(t *testing.T) {
	for _, kv := range []string{
		"DMTSET_NTSAMPLES=x",
		"DMTSET_SEED=1.5",
		"DMTSET_SKIP_OUT_OF_RANGE=maybe",
		"DMTSET_DM_RANGES_PULSES=1,b",
	} {
		_, err := EnvOverlay([]string{kv})
		assert.Error(t, err, kv)
	}
	// 空值视为未设置
	over, err := EnvOverlay([]string{"DMTSET_STREAM_NUM_DMS=", "DMTSET_NAME= "})
	require.NoError(t, err)
	assert.Zero(t, over.Stream.NumDMs)
	assert.Empty(t, over.Name)
}

// Merge 不共享 options/pulses 底层数组
func TestMergeClones(t *testing.T) {
	over := Config{Options: Options{Trials: json.RawMessage(`{"pattern":"*.fil"}`)}, DMRanges: DMRanges{Pulses: []float64{1, 2}}}
	over.Stream.MaxRetries = -1
	m := Merge(Defaults(), over)
	over.Options.Trials[2] = 'X'
	over.DMRanges.Pulses[0] = 99
	assert.JSONEq(t, `{"pattern":"*.fil"}`, string(m.Options.Trials))
	assert.Equal(t, []float64{1, 2}, m.DMRanges.Pulses)
}

// 补充覆盖: splitComma 与 atoi
func TestSplitCommaAtoi(t *testing.T) {
	parts := splitComma("a, b , ,c")
	assert.Equal(t, []string{"a", "b", "c"}, parts)
	v, err := atoi(" 10 ")
	require.NoError(t, err)
	assert.Equal(t, 10, v)
	assert.Nil(t, splitComma(""))
}

// 补充覆盖: Defaults 与 cloneRaw
func TestDefaultsClone(t *testing.T) {
	d := Defaults()
	assert.Equal(t, "fs", d.Components.Trials)
	assert.Equal(t, 256, d.WindowWidth)
	src := []byte("abc")
	dst := cloneRaw(src)
	src[0] = 'x'
	assert.Equal(t, "abc", string(dst))
	assert.Nil(t, cloneRaw(nil))
}

// 补充覆盖: Validate 错误分支
func TestValidateErrors(t *testing.T) {
	cases := map[string]func(*Config){
		"ntsamples":   func(c *Config) { c.NTSamples = 0 },
		"width":       func(c *Config) { c.WindowWidth = -1 },
		"attempts":    func(c *Config) { c.MaxAttempts = 0 },
		"pulses len":  func(c *Config) { c.DMRanges.Pulses = []float64{1} },
		"pulses desc": func(c *Config) { c.DMRanges.Pulses = []float64{9, 1} },
		"level":       func(c *Config) { c.Logging.Level = "loud" },
		"num_dms":     func(c *Config) { c.Stream.NumDMs = 0 },
		"pages":       func(c *Config) { c.Stream.Pages = -1 },
		"retries":     func(c *Config) { c.Stream.MaxRetries = -1 },
		"limits":      func(c *Config) { c.Stream.Limits.RPM = -5 },
		"trials":      func(c *Config) { c.Components.Trials = "s3" },
		"header":      func(c *Config) { c.Components.Header = "psrfits" },
		"classifier":  func(c *Config) { c.Components.Classifier = "onnx" },
		"pages impl":  func(c *Config) { c.Components.Pages = "kafka" },
	}
	for name, mut := range cases {
		cfg := DefaultTemplateConfig()
		mut(&cfg)
		err := Validate(cfg)
		assert.ErrorIs(t, err, contract.ErrInvalidInput, name)
	}
}

func TestAssembleBuild(t *testing.T) {
	cfg, err := LoadJSON("", []byte(basicJSON))
	require.NoError(t, err)
	cfg = Merge(Defaults(), cfg)
	cfg.Options.Candidates = json.RawMessage(`{"path":"c.tsv"}`)
	cfg.Options.Writer = json.RawMessage(`{"output_dir":"` + filepath.ToSlash(t.TempDir()) + `"}`)

	comp, set, err := AssembleBuild(cfg)
	require.NoError(t, err)
	assert.NotNil(t, comp.Trials)
	assert.NotNil(t, comp.Candidates)
	assert.NotNil(t, comp.Header)
	assert.NotNil(t, comp.Writer)
	assert.Equal(t, "trials", set.TrialsDir)
	assert.Equal(t, 128, set.Width)
	assert.False(t, set.SkipOutOfRange)
	assert.Equal(t, 3.0, set.Pulse.Low)
	assert.Equal(t, 500.0, set.Pulse.High)

	// 未设置 skip_out_of_range 时默认跳过
	cfg.SkipOutOfRange = nil
	_, set, err = AssembleBuild(cfg)
	require.NoError(t, err)
	assert.True(t, set.SkipOutOfRange)

	cfg.TrialsDir = " "
	_, _, err = AssembleBuild(cfg)
	assert.Error(t, err)

	// 工厂严格解析：未知 option 键失败
	cfg.TrialsDir = "trials"
	cfg.Options.Trials = json.RawMessage(`{"glob":"*.dat"}`)
	_, _, err = AssembleBuild(cfg)
	assert.Error(t, err)
}

func TestAssembleInfer(t *testing.T) {
	cfg, err := LoadJSON("", []byte(basicJSON))
	require.NoError(t, err)
	cfg = Merge(Defaults(), cfg)
	cfg.Options.Writer = json.RawMessage(`{"output_dir":"` + filepath.ToSlash(t.TempDir()) + `"}`)
	pages := writeFile(t, "pages.raw", string(make([]byte, 64)))
	cfg.Options.Pages = json.RawMessage(`{"path":"` + filepath.ToSlash(pages) + `","page_bytes":32}`)

	comp, set, err := AssembleInfer(cfg)
	require.NoError(t, err)
	defer comp.Pages.Close()
	assert.NotNil(t, comp.Classifier)
	assert.Equal(t, 64, set.NumDMs)
	assert.Equal(t, 1, set.MaxRetries)
	assert.Equal(t, "obs1", set.Output)
	require.NotNil(t, set.Gate)
	assert.Equal(t, "mock:local", string(set.Gate.Key()))
	assert.Equal(t, 30, set.Gate.Limits().RPM)

	cfg.Options.Pages = json.RawMessage(`{"path":"` + filepath.ToSlash(pages) + `","page_bytes":3}`)
	_, _, err = AssembleInfer(cfg)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}
