package diag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"dmtset/pkg/contract"
)

// 日志轮转写入
func TestRotatingFile(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 30)
	require.NoError(t, w.WriteLine([]byte("first line that is very long")))
	require.NoError(t, w.WriteLine([]byte("second")))
	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(files), 2, "应存在轮转文件")
	require.NoError(t, w.Close())
}

func TestRotatingFileRotateFiles(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 10)
	for i := 0; i < 5; i++ {
		require.NoError(t, w.WriteLine([]byte("xxxxxxxxxxxxxxxxxx")))
	}
	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	hasCurrent, hasRotated := false, false
	for _, e := range ents {
		if e.Name() == currentName {
			hasCurrent = true
		}
		if strings.HasPrefix(e.Name(), "dmtset-") && strings.HasSuffix(e.Name(), ".txt") && !strings.Contains(e.Name(), "current") {
			hasRotated = true
		}
	}
	assert.True(t, hasCurrent)
	assert.True(t, hasRotated)
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())
}

func TestRotatingFileEnsureAndRotate(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 1024)
	require.NoError(t, w.ensureOpen())
	require.NotNil(t, w.f)
	require.NoError(t, w.rotate())
	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(ents), 2)
	require.NoError(t, w.Close())
}

func TestRotatingFileDefaultsAndRotateNoOpen(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 0)
	assert.Equal(t, int64(10*1024*1024), w.maxBytes)
	require.NoError(t, w.WriteLine([]byte("a")))
	require.NoError(t, w.Close())
	// f==nil 分支
	require.NoError(t, w.rotate())
	require.NoError(t, w.Close())
	assert.NoError(t, w.Sync())
}

func TestMetricsSnapshot(t *testing.T) {
	ResetMetrics()
	IncOp("sampler", "finish", "success")
	IncOp("sampler", "finish", "success")
	IncError("candidates", string(CodeCandidate))
	ObserveDuration("image", "finish", 7)
	ObserveDuration("image", "finish", 3)

	snap := Snapshot()
	assert.Equal(t, int64(2), snap["op_total/sampler/finish/success"])
	assert.Equal(t, int64(1), snap["error_total/candidates/candidate"])
	assert.Equal(t, int64(10), snap["op_duration_ms/image/finish"])

	kv := SnapshotKV()
	assert.Equal(t, "10", kv["op_duration_ms/image/finish"])

	ResetMetrics()
	assert.Empty(t, Snapshot())
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{nil, CodeUnknown},
		{context.Canceled, CodeCancel},
		{fmt.Errorf("wrap: %w", context.DeadlineExceeded), CodeCancel},
		{&contract.SamplingExhaustedError{Target: 3, Accepted: 1}, CodeExhausted},
		{fmt.Errorf("x: %w", contract.ErrDuplicateDM), CodeConfig},
		{contract.ErrTrialName, CodeConfig},
		{contract.ErrNoTrials, CodeConfig},
		{contract.ErrSampleCountMismatch, CodeConfig},
		{&contract.CandidateError{Line: 2, Err: contract.ErrIndexOutOfRange}, CodeCandidate},
		{contract.ErrWindowOutOfBounds, CodeCandidate},
		{contract.ErrCandidateRow, CodeCandidate},
		{contract.ErrRateLimited, CodeBudget},
		{contract.ErrResponseInvalid, CodeProtocol},
		{contract.ErrPageShape, CodeProtocol},
		{contract.ErrInvalidInput, CodeInvariant},
		{contract.ErrPathInvalid, CodeInvariant},
		{&fs.PathError{Op: "open", Path: "/", Err: errors.New("x")}, CodeIO},
		{&net.DNSError{Err: "x"}, CodeNetwork},
		{errors.New("other"), CodeUnknown},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.err), "%v", c.err)
	}
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, ln := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if ln == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(ln), &m), ln)
		out = append(out, m)
	}
	return out
}

func TestLoggerEvents(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo("corr-1", "debug", zapcore.AddSync(&buf))

	timer := l.StartWith("image", "build", "DM5.dat", "3")
	timer.Finish("ok", 4)
	l.WarnWithKV("candidates", string(CodeCandidate), "skip", "12", map[string]string{"position": "-1"})
	start := time.Now().Add(-5 * time.Millisecond)
	l.ErrorWithKV("stream", string(CodeProtocol), "bad page", &start, "", "7", map[string]string{"http_status": "500"})
	l.DebugStart("sampler", "draw", "", "", nil)
	require.NoError(t, l.Sync())

	evs := decodeLines(t, &buf)
	require.Len(t, evs, 5)
	assert.Equal(t, "info", evs[0]["level"])
	assert.Equal(t, "corr-1", evs[0]["corr_id"])
	assert.Equal(t, "image", evs[0]["comp"])
	assert.Equal(t, "start", evs[0]["stage"])
	assert.Equal(t, "DM5.dat", evs[0]["file_id"])
	assert.Equal(t, "3", evs[0]["item"])
	assert.NotEmpty(t, evs[0]["ts"])

	assert.Equal(t, "finish", evs[1]["stage"])
	assert.EqualValues(t, 4, evs[1]["count"])

	assert.Equal(t, "warn", evs[2]["level"])
	assert.Equal(t, "candidate", evs[2]["code"])
	assert.Equal(t, map[string]any{"position": "-1"}, evs[2]["kv"])

	assert.Equal(t, "error", evs[3]["level"])
	assert.Greater(t, evs[3]["dur_ms"], float64(0))

	assert.Equal(t, "debug", evs[4]["level"])
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo("c", "warn", zapcore.AddSync(&buf))
	l.Start("comp", "msg").Finish("ok", 1)
	l.DebugStart("comp", "msg", "f", "i", nil)
	l.InfoFinish("comp", "msg", time.Now(), 1)
	l.Warn("comp", "code", "kept")
	l.Error("comp", "code", "kept", nil)
	l.ErrorWith("comp", "code", "kept", nil, "f", "i")
	evs := decodeLines(t, &buf)
	require.Len(t, evs, 3)
	for _, ev := range evs {
		assert.Equal(t, "kept", ev["msg"])
	}
}

func TestLevelStrings(t *testing.T) {
	assert.Equal(t, "warn", Warn.String())
	assert.Equal(t, "info", Level(12345).String())
	assert.Equal(t, Debug, parseLevel("DEBUG"))
	assert.Equal(t, Info, parseLevel("bogus"))
	assert.Equal(t, Error, parseLevel("error"))
}

func TestLoggerNilSafety(t *testing.T) {
	var tnil *Timer
	tnil.Finish("x", 0)
	(&Timer{}).Finish("x", 0)
	assert.False(t, tnil.Since().IsZero())

	var lnil *Logger
	lnil.Warn("c", "code", "m")
	assert.NoError(t, lnil.Sync())
	assert.NoError(t, lnil.Close())

	n := Nop()
	n.Error("c", "code", "m", nil)
	assert.NoError(t, n.Close())
}

func TestLoggerWithSink(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	l := NewLogger("corr", "info")
	l.Start("comp", "msg").Finish("ok", 1)
	l.Error("comp", "code", "msg", nil)
	require.NoError(t, l.Close())

	b, err := os.ReadFile(filepath.Join(dir, "logs", currentName))
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(b), "\n"))
}

func TestNowUTC(t *testing.T) {
	_, err := time.Parse(time.RFC3339, NowUTC())
	assert.NoError(t, err)
}

// 非 TTY：阶段起止与 25% 节点各一行
func TestTerminalNonTTYMilestones(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	require.False(t, term.isTTY)
	term.RunStart("build", "trials")
	term.StageStart("image", 8)
	for i := 1; i <= 8; i++ {
		term.StageProgress(i)
	}
	term.StageFinish(true, 5100*time.Millisecond)
	term.RunFinish(true, 41300*time.Millisecond)

	out := sb.String()
	assert.NotContains(t, out, "\r")
	assert.Equal(t, []string{
		"[build] trials",
		"  image: 0/8",
		"  image: 2/8 (25%)",
		"  image: 4/8 (50%)",
		"  image: 6/8 (75%)",
		"  image: ok | 8 条 | 5.1s",
		"[build] 完成 | 1 个阶段 | 41.3s",
	}, strings.Split(strings.TrimSuffix(out, "\n"), "\n"))
}

// 总数未知（页流读到 EOF）时只打印开始与结束
func TestTerminalNonTTYUnknownTotal(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	term.RunStart("infer", "file → mock")
	term.StageStart("classify", 0)
	term.StageProgress(1)
	term.StageProgress(2)
	term.StageFinish(false, 20*time.Millisecond)
	term.RunFinish(false, 30*time.Millisecond)
	assert.Equal(t, "[infer] file → mock\n  classify: 开始\n  classify: 失败 | 2 条 | 20ms\n[infer] 失败 | 1 个阶段 | 30ms\n", sb.String())
}

// TTY：节流、百分比与清尾
func TestTerminalTTYProgress(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	term.isTTY = true
	term.StageStart("classify", 10)
	assert.Empty(t, sb.String())

	term.StageProgress(1)
	first := sb.String()
	require.True(t, strings.HasPrefix(first, "\r  classify: 1/10 10%"), first)
	term.StageProgress(2)
	assert.Equal(t, first, sb.String(), "100ms 内不刷新")
	time.Sleep(120 * time.Millisecond)
	term.StageProgress(3)
	assert.Contains(t, sb.String()[len(first):], "3/10 30%")

	term.StageFinish(false, 2200*time.Millisecond)
	final := sb.String()
	idx := strings.LastIndex(final, "  classify: 失败")
	require.GreaterOrEqual(t, idx, 0)
	seg := final[:idx]
	cr := strings.LastIndex(seg, "\r")
	require.GreaterOrEqual(t, cr, 0)
	assert.Equal(t, strings.Repeat(" ", len(seg)-cr-1), seg[cr+1:], "清尾只含空格")
	assert.Contains(t, final[idx:], "3 条 | 2.2s")
}

type flakyWriter struct{ fail bool }

func (w *flakyWriter) Write(p []byte) (int, error) {
	if w.fail {
		w.fail = false
		return 0, fmt.Errorf("boom")
	}
	return len(p), nil
}

func TestTerminalDisableOnWriteError(t *testing.T) {
	fw := &flakyWriter{fail: true}
	term := NewTerminal(fw, true)
	term.RunStart("build", "x")
	assert.False(t, term.enabled)
	term.StageStart("a", 4)
	term.StageProgress(4)
	term.StageFinish(true, 0)
	term.RunFinish(true, 0)

	fw = &flakyWriter{fail: true}
	term = NewTerminal(fw, true)
	term.isTTY = true
	term.StageStart("sampler", 2)
	term.StageProgress(1)
	assert.False(t, term.enabled)
}

func TestTerminalDisabledAndNil(t *testing.T) {
	var sb strings.Builder
	off := NewTerminal(&sb, false)
	off.RunStart("build", "x")
	off.StageStart("a", 1)
	off.StageProgress(1)
	off.StageFinish(true, 0)
	off.RunFinish(true, 0)
	assert.Empty(t, sb.String())

	var tn *Terminal
	tn.RunStart("x", "y")
	tn.StageStart("a", 1)
	tn.StageProgress(0)
	tn.StageFinish(true, 0)
	tn.RunFinish(true, 0)
}

func TestNewTerminalCIEnv(t *testing.T) {
	t.Setenv("CI", "true")
	assert.False(t, NewTerminal(os.Stderr, true).isTTY)
}

func TestTerminalHelpers(t *testing.T) {
	assert.Equal(t, "a b c", oneLine(" a\nb\rc "))
	assert.Equal(t, "0ms", formatDur(0))
	assert.Equal(t, "1.5s", formatDur(1500*time.Millisecond))

	SetTerminal(nil)
	assert.Nil(t, GetTerminal())
	SetTerminal(NewTerminal(os.Stderr, false))
	assert.NotNil(t, GetTerminal())
	SetTerminal(nil)
}
