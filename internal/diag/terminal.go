package diag

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Terminal 在 stderr 上给出阶段进度（非日志）。
// TTY：单行 \r 刷新，带百分比与速率；非 TTY：阶段开始/结束各一行，
// 已知总数时每跨过 25% 打一行。写失败后转为 no-op。
type Terminal struct {
	mu      sync.Mutex
	w       io.Writer
	enabled bool
	isTTY   bool

	command string
	stages  int

	stage     string
	total     int // 0 表示总数未知（页流读到 EOF 为止）
	done      int
	quarter   int
	stageT0   time.Time
	lastLen   int
	lastFlush time.Time
}

var (
	termMu sync.RWMutex
	term   *Terminal
)

// SetTerminal 设置进程级终端（nil 清除）；pipeline/stream 通过 GetTerminal 旁路上报。
func SetTerminal(t *Terminal) { termMu.Lock(); term = t; termMu.Unlock() }

// GetTerminal 返回进程级终端（可能为 nil）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return term }

// NewTerminal enabled=false 时所有方法为 no-op。CI 环境一律按非 TTY 处理。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled}
	if f, ok := w.(*os.File); ok && os.Getenv("CI") == "" {
		t.isTTY = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return t
}

// RunStart 打印子命令与摘要（试验目录或 页来源→分类器）。
func (t *Terminal) RunStart(command, detail string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.command = oneLine(command)
	t.stages = 0
	t.println(fmt.Sprintf("[%s] %s", t.command, oneLine(detail)))
}

// StageStart 进入新阶段：trials、candidates、sampling、write、classify 等。
func (t *Terminal) StageStart(stage string, total int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stage = oneLine(stage)
	t.total = max(total, 0)
	t.done = 0
	t.quarter = 0
	t.stageT0 = time.Now()
	t.lastFlush = time.Time{}
	if !t.isTTY {
		if t.total > 0 {
			t.println(fmt.Sprintf("  %s: 0/%d", t.stage, t.total))
		} else {
			t.println(fmt.Sprintf("  %s: 开始", t.stage))
		}
	}
}

// StageProgress 上报当前阶段已完成条目数。TTY 下 100ms 节流。
func (t *Terminal) StageProgress(done int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.done = done
	if !t.isTTY {
		if t.total > 0 {
			if q := done * 4 / t.total; q > t.quarter && q < 4 {
				t.quarter = q
				t.println(fmt.Sprintf("  %s: %d/%d (%d%%)", t.stage, done, t.total, q*25))
			}
		}
		return
	}
	now := time.Now()
	if now.Sub(t.lastFlush) < 100*time.Millisecond {
		return
	}
	t.lastFlush = now
	t.printInline(t.progressLine(now))
}

func (t *Terminal) progressLine(now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  %s: %d", t.stage, t.done)
	if t.total > 0 {
		fmt.Fprintf(&b, "/%d %d%%", t.total, t.done*100/t.total)
	}
	if el := now.Sub(t.stageT0).Seconds(); el > 0 {
		fmt.Fprintf(&b, " | %.1f/s", float64(t.done)/el)
	}
	return b.String()
}

// StageFinish 结束当前阶段并换行。
func (t *Terminal) StageFinish(ok bool, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	t.stages++
	mark := "ok"
	if !ok {
		mark = "失败"
	}
	n := t.done
	if ok && t.total > n {
		n = t.total
	}
	t.println(fmt.Sprintf("  %s: %s | %d 条 | %s", t.stage, mark, n, formatDur(dur)))
}

// RunFinish 打印总结行。
func (t *Terminal) RunFinish(ok bool, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	mark := "完成"
	if !ok {
		mark = "失败"
	}
	t.println(fmt.Sprintf("[%s] %s | %d 个阶段 | %s", t.command, mark, t.stages, formatDur(dur)))
}

func (t *Terminal) println(s string) {
	if !t.enabled {
		return
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		t.enabled = false
	}
	t.lastLen = 0
}

// printInline 以 \r 覆盖上一行；新行较短时补空格清尾。
func (t *Terminal) printInline(s string) {
	if !t.enabled {
		return
	}
	n := len([]rune(s))
	line := "\r" + s
	if t.lastLen > n {
		line += strings.Repeat(" ", t.lastLen-n)
	}
	if _, err := io.WriteString(t.w, line); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = n
}

func oneLine(s string) string {
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(strings.TrimSpace(s))
}

func formatDur(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", max(d.Milliseconds(), 0))
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
