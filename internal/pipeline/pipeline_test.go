package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"dmtset/internal/diag"
	"dmtset/internal/dmtime"
	"dmtset/pkg/contract"
	"dmtset/pkg/npy"
	hstatic "dmtset/plugins/header/static"
	wnpy "dmtset/plugins/writer/npy"
)

// 通用桩件 ----------------------------------------------------

type memTrials map[contract.FileID][]byte

func (m memTrials) List(ctx context.Context, dir string) ([]contract.FileID, error) {
	out := make([]contract.FileID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out, nil
}

func (m memTrials) Open(ctx context.Context, id contract.FileID) (io.ReadCloser, error) {
	b, ok := m[id]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

type sliceCandidates []contract.Candidate

func (s sliceCandidates) Load(ctx context.Context) ([]contract.Candidate, error) { return s, nil }

func encodeF32(vs []float32) []byte {
	out := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// scenarioTrials: DM0/DM5/DM10 各 1000 样本，DM5 第 500 列为标记峰值。
func scenarioTrials() memTrials {
	st := memTrials{}
	for r, dm := range []int{0, 5, 10} {
		vs := make([]float32, 1000)
		for c := range vs {
			vs[c] = float32((c*7+r*3)%11) / 10
		}
		if dm == 5 {
			vs[500] = 1000
		}
		st[contract.FileID(fmt.Sprintf("obs_DM%d.dat", dm))] = encodeF32(vs)
	}
	return st
}

func cand(line int, mjd string, dm float64) contract.Candidate {
	return contract.Candidate{Line: line, MJD: decimal.RequireFromString(mjd), MJDText: mjd, DM: dm, SNR: 10}
}

func newComponents(t *testing.T, trials memTrials, cands []contract.Candidate) (Components, string) {
	t.Helper()
	hdr, err := hstatic.New(&hstatic.Options{Basename: "obs", TStart: "60000", TSamp: "0.864"})
	require.NoError(t, err)
	out := t.TempDir()
	w, err := wnpy.New(&wnpy.Options{OutputDir: out})
	require.NoError(t, err)
	return Components{Trials: trials, Candidates: sliceCandidates(cands), Header: hdr, Writer: w}, out
}

func baseSettings() Settings {
	return Settings{
		NTSamples:      2,
		Width:          4,
		Seed:           7,
		MaxAttempts:    dmtime.DefaultMaxAttempts,
		SkipOutOfRange: true,
		Pulse:          dmtime.PulseRange{Low: 3, High: 7},
	}
}

func readManifest(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

// 3 文件 / 1000 样本 / 宽 4 / ntsamples 2：2 个正样本 + 2 个负样本，写出三件工件。
func TestRunScenario(t *testing.T) {
	comp, out := newComponents(t, scenarioTrials(), []contract.Candidate{cand(1, "60000.005", 5)})
	res, err := Run(context.Background(), comp, baseSettings(), nil)
	require.NoError(t, err)

	assert.Equal(t, "obs", res.Name)
	assert.Equal(t, 2, res.Pulse)
	assert.Equal(t, 0, res.ZeroDM)
	assert.Equal(t, 2, res.Random)
	assert.Equal(t, map[contract.Label]int{contract.LabelPulse: 2, contract.LabelArtefact: 2}, res.Counts)
	require.Len(t, res.Artifacts, 3)

	f, err := os.Open(filepath.Join(out, "obs_DM_time_dataset_realbased.npy"))
	require.NoError(t, err)
	defer f.Close()
	h, err := npy.ReadHeader(f)
	require.NoError(t, err)
	assert.Equal(t, "|u1", h.Descr)
	assert.Equal(t, []int{4, 3, 4}, h.Shape)
	pix, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Len(t, pix, 4*3*4)

	// 通过清单核对标签与窗口内容：正样本中仅标记像素非零。
	lines := readManifest(t, filepath.Join(out, "obs_DM_time_dataset_realbased_manifest.jsonl"))
	require.Len(t, lines, 4)
	for i, ln := range lines {
		win := pix[i*12 : (i+1)*12]
		nonzero := 0
		for _, v := range win {
			if v != 0 {
				nonzero++
			}
		}
		if ln["label"] == string(contract.LabelPulse) {
			assert.Equal(t, "pulse", ln["class"])
			assert.Equal(t, 1, nonzero, "window %d", i)
			assert.EqualValues(t, 500, ln["column"])
		} else {
			assert.Equal(t, "random", ln["class"])
			assert.Greater(t, nonzero, 1, "window %d", i)
			col := int64(ln["column"].(float64))
			assert.False(t, col >= 496 && col <= 500, "negative inside exclusion: %d", col)
		}
	}
}

func TestRunDeterministic(t *testing.T) {
	cands := []contract.Candidate{cand(1, "60000.005", 5), cand(2, "60000.001", 0)}
	compA, outA := newComponents(t, scenarioTrials(), cands)
	compB, outB := newComponents(t, scenarioTrials(), cands)
	_, err := Run(context.Background(), compA, baseSettings(), nil)
	require.NoError(t, err)
	_, err = Run(context.Background(), compB, baseSettings(), nil)
	require.NoError(t, err)
	for _, name := range []string{"obs_DM_time_dataset_realbased.npy", "obs_DM_time_dataset_realbased_manifest.jsonl"} {
		a, err := os.ReadFile(filepath.Join(outA, name))
		require.NoError(t, err)
		b, err := os.ReadFile(filepath.Join(outB, name))
		require.NoError(t, err)
		assert.Equal(t, a, b, name)
	}
}

// 零 DM 候选体：标 Artefact，负样本目标 = 正样本 + 零 DM。
func TestRunZeroDM(t *testing.T) {
	cands := []contract.Candidate{cand(1, "60000.005", 5), cand(2, "60000.001", 0)}
	comp, _ := newComponents(t, scenarioTrials(), cands)
	res, err := Run(context.Background(), comp, baseSettings(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pulse)
	assert.Equal(t, 2, res.ZeroDM)
	assert.Equal(t, 4, res.Random)
	assert.Equal(t, map[contract.Label]int{contract.LabelPulse: 2, contract.LabelArtefact: 6}, res.Counts)
}

func TestRunSkipOutOfRange(t *testing.T) {
	var buf bytes.Buffer
	logger := diag.NewLoggerTo("t", "info", zapcore.AddSync(&buf))
	// 第 2 行早于起始 MJD → 负下标
	cands := []contract.Candidate{cand(1, "60000.005", 5), cand(2, "59999.5", 5)}
	comp, _ := newComponents(t, scenarioTrials(), cands)
	res, err := Run(context.Background(), comp, baseSettings(), logger)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 2, res.Pulse)
	assert.Contains(t, buf.String(), `"msg":"candidate skipped"`)
	assert.Contains(t, buf.String(), `"item":"2"`)

	set := baseSettings()
	set.SkipOutOfRange = false
	comp, _ = newComponents(t, scenarioTrials(), cands)
	_, err = Run(context.Background(), comp, set, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, contract.ErrIndexOutOfRange)
	var ce *contract.CandidateError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 2, ce.Line)
}

// 窗口越界：位置 998、宽 4 时 start+W 超过 1000 列，不做裁剪。
func TestRunWindowOutOfBounds(t *testing.T) {
	cands := []contract.Candidate{cand(1, "60000.00998", 5)}
	comp, _ := newComponents(t, scenarioTrials(), cands)
	res, err := Run(context.Background(), comp, baseSettings(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, res.Pulse)

	set := baseSettings()
	set.SkipOutOfRange = false
	comp, _ = newComponents(t, scenarioTrials(), cands)
	_, err = Run(context.Background(), comp, set, nil)
	assert.ErrorIs(t, err, contract.ErrWindowOutOfBounds)
}

func TestRunSamplingExhausted(t *testing.T) {
	trials := memTrials{}
	for _, dm := range []int{0, 5} {
		vs := make([]float32, 8)
		for i := range vs {
			vs[i] = float32(i)
		}
		trials[contract.FileID(fmt.Sprintf("x_DM%d.dat", dm))] = encodeF32(vs)
	}
	// 位置 4（宽 4）排除 [0,4]，而可抽取起点仅 0..3。
	cands := []contract.Candidate{cand(1, "60000.00004", 5)}
	comp, out := newComponents(t, trials, cands)
	set := baseSettings()
	set.NTSamples = 1
	set.MaxAttempts = 500
	_, err := Run(context.Background(), comp, set, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, contract.ErrSamplingExhausted)
	var ex *contract.SamplingExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 1, ex.Shortfall())
	assert.Equal(t, 500, ex.Attempts)
	ents, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, ents, "nothing written on failure")
}

func TestRunConfigErrors(t *testing.T) {
	trials := scenarioTrials()
	trials["dup_DM5.0.dat"] = trials["obs_DM5.dat"]
	comp, _ := newComponents(t, trials, nil)
	_, err := Run(context.Background(), comp, baseSettings(), nil)
	assert.ErrorIs(t, err, contract.ErrDuplicateDM)

	trials = scenarioTrials()
	trials["obs_DM20.dat"] = encodeF32(make([]float32, 999))
	comp, _ = newComponents(t, trials, nil)
	_, err = Run(context.Background(), comp, baseSettings(), nil)
	assert.ErrorIs(t, err, contract.ErrSampleCountMismatch)

	comp, _ = newComponents(t, memTrials{}, nil)
	_, err = Run(context.Background(), comp, baseSettings(), nil)
	assert.ErrorIs(t, err, contract.ErrNoTrials)

	_, err = Run(context.Background(), Components{}, baseSettings(), nil)
	assert.Error(t, err)

	comp, _ = newComponents(t, scenarioTrials(), nil)
	set := baseSettings()
	set.Width = 0
	_, err = Run(context.Background(), comp, set, nil)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

// 无候选体：空数据集仍写出，形状 (0, rows, W)。
func TestRunEmpty(t *testing.T) {
	comp, out := newComponents(t, scenarioTrials(), nil)
	set := baseSettings()
	set.Name = "empty"
	res, err := Run(context.Background(), comp, set, nil)
	require.NoError(t, err)
	assert.Equal(t, "empty", res.Name)
	f, err := os.Open(filepath.Join(out, "empty_DM_time_dataset_realbased.npy"))
	require.NoError(t, err)
	defer f.Close()
	h, err := npy.ReadHeader(f)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 3, 4}, h.Shape)
}

func TestRunCanceled(t *testing.T) {
	comp, _ := newComponents(t, scenarioTrials(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, comp, baseSettings(), nil)
	assert.ErrorIs(t, err, context.Canceled)
}
