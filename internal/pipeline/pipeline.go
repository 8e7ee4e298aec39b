package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"dmtset/internal/diag"
	"dmtset/internal/dmtime"
	"dmtset/pkg/contract"
)

// - 顺序执行：构建模式无并发；图像一次加载后只读共享给提取与采样。
// - 首错返回：配置类错误（文件名、重复 DM、样本数不一致）与采样耗尽均致命。
// - 候选体越界按 SkipOutOfRange 策略跳过并记录 warn，或致命。

// Components 聚合运行所需的原子组件。
type Components struct {
	Trials     contract.TrialStore
	Candidates contract.CandidateSource
	Header     contract.HeaderSource
	Writer     contract.DatasetWriter
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	// Name: 输出前缀；空则取文件头 Basename。
	Name      string
	TrialsDir string
	NTSamples int
	Width     int
	Seed      int64
	// MaxAttempts: 负样本抽取总次数上限；<=0 使用默认。
	MaxAttempts    int
	SkipOutOfRange bool
	Pulse          dmtime.PulseRange
}

// Result 汇总一次构建的产出。
type Result struct {
	Name      string
	Artifacts []contract.ArtifactID
	Counts    map[contract.Label]int
	// 各类窗口数量（打乱前）
	Pulse, ZeroDM, Random int
	Skipped               int
}

// Run 执行完整构建：List → Catalog → Image → Header → Candidates → Categorize →
// 正样本/零 DM 窗口 → 排除区间 → 负样本 → Assemble → Writer。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Result, error) {
	if logger == nil {
		logger = diag.Nop()
	}
	if err := sanity(comp, set); err != nil {
		return Result{}, fmt.Errorf("sanity: %w", err)
	}
	var res Result

	// 目录与图像
	st := begin(logger, "catalog", "list", 0)
	ids, err := comp.Trials.List(ctx, set.TrialsDir)
	if err != nil {
		return res, st.fail(err, "list trials failed")
	}
	files, dms, err := dmtime.Catalog(ids)
	if err != nil {
		return res, st.fail(err, "catalog failed")
	}
	st.done("catalog", int64(len(files)))
	if len(dms) > 0 {
		logger.DebugStart("catalog", "dm_range", "", "", map[string]string{
			"dm_min": strconv.FormatFloat(dms[0], 'g', -1, 64),
			"dm_max": strconv.FormatFloat(dms[len(dms)-1], 'g', -1, 64),
		})
	}

	st = begin(logger, "image", "build", len(files))
	img, err := dmtime.BuildImage(ctx, comp.Trials, files, func(done, _ int) {
		if t := diag.GetTerminal(); t != nil {
			t.StageProgress(done)
		}
	})
	if err != nil {
		return res, st.fail(err, "build image failed")
	}
	st.doneKV("build", int64(img.Rows()), map[string]string{
		"rows": strconv.Itoa(img.Rows()),
		"cols": strconv.Itoa(img.Cols()),
	})

	// 文件头与映射
	st = begin(logger, "header", "read", 0)
	hdr, err := comp.Header.Header(ctx)
	if err != nil {
		return res, st.fail(err, "read header failed")
	}
	m, err := dmtime.MapperFromHeader(hdr)
	if err != nil {
		return res, st.fail(err, "header mapper failed")
	}
	st.doneKV("read", 0, map[string]string{
		"tstart": hdr.StartMJD.String(),
		"tsamp":  hdr.TSamp.String(),
	})
	res.Name = strings.TrimSpace(set.Name)
	if res.Name == "" {
		res.Name = hdr.Basename
	}
	if res.Name == "" {
		res.Name = "dataset"
	}

	// 候选体
	st = begin(logger, "candidates", "load", 0)
	cands, err := comp.Candidates.Load(ctx)
	if err != nil {
		return res, st.fail(err, "load candidates failed")
	}
	classes := dmtime.Categorize(cands, set.Pulse)
	st.doneKV("categorize", int64(len(cands)), map[string]string{
		"pulse":   strconv.Itoa(len(classes.Pulse)),
		"zero_dm": strconv.Itoa(len(classes.ZeroDM)),
		"rest":    strconv.Itoa(len(classes.Rest)),
	})

	spec := dmtime.WindowSpec{Width: set.Width, NTSamples: set.NTSamples}
	collect := func(cs []contract.Candidate, class contract.Class) (dmtime.Collected, error) {
		st := begin(logger, "windows", class.String(), len(cs))
		col, err := dmtime.CollectCandidates(img, m, cs, class, spec, set.SkipOutOfRange)
		if err != nil {
			return col, st.fail(err, "collect "+class.String()+" failed")
		}
		for _, ce := range col.Skipped {
			code := diag.Classify(ce)
			logger.WarnWithKV("windows", string(code), "candidate skipped", strconv.Itoa(ce.Line), map[string]string{
				"class":    class.String(),
				"mjd":      ce.MJD,
				"position": strconv.FormatInt(ce.Position, 10),
				"reason":   ce.Err.Error(),
			})
			diag.IncOp("windows", class.String(), "skip")
			diag.IncError("windows", string(code))
		}
		st.done(class.String(), int64(col.Len()))
		return col, nil
	}
	pos, err := collect(classes.Pulse, contract.ClassPulse)
	if err != nil {
		return res, err
	}
	zero, err := collect(classes.ZeroDM, contract.ClassZeroDM)
	if err != nil {
		return res, err
	}
	res.Skipped = len(pos.Skipped) + len(zero.Skipped)

	// 负样本
	positions := make([]int64, 0, len(pos.Positions)+len(zero.Positions))
	positions = append(append(positions, pos.Positions...), zero.Positions...)
	excl := dmtime.Exclusions(positions, set.Width)
	target := dmtime.NegativeTarget(pos.Part, zero.Part)
	st = begin(logger, "sampler", "sample", target)
	sampler := &dmtime.Sampler{
		Width:       set.Width,
		MaxAttempts: set.MaxAttempts,
		Rand:        dmtime.NewRand(uint64(set.Seed)),
		Progress: func(done, _ int) {
			if t := diag.GetTerminal(); t != nil {
				t.StageProgress(done)
			}
		},
	}
	negWins, starts, err := sampler.Sample(ctx, img, excl, target)
	if err != nil {
		var ex *contract.SamplingExhaustedError
		if errors.As(err, &ex) {
			st.kv = map[string]string{
				"target":    strconv.Itoa(ex.Target),
				"accepted":  strconv.Itoa(ex.Accepted),
				"attempts":  strconv.Itoa(ex.Attempts),
				"shortfall": strconv.Itoa(ex.Shortfall()),
			}
		}
		return res, st.fail(err, "sampling failed")
	}
	neg := dmtime.RandomPart(negWins, starts)
	st.doneKV("sample", int64(neg.Len()), map[string]string{
		"exclusions": strconv.Itoa(len(excl)),
		"target":     strconv.Itoa(target),
	})

	// 装配与写出
	st = begin(logger, "assembler", "assemble", 0)
	ds, err := dmtime.Assemble(pos.Part, zero.Part, neg, dmtime.NewRand(uint64(set.Seed)+1))
	if err != nil {
		return res, st.fail(err, "assemble failed")
	}
	ds.Rows, ds.Width = img.Rows(), set.Width
	res.Counts = ds.Counts()
	res.Pulse, res.ZeroDM, res.Random = pos.Len(), zero.Len(), neg.Len()
	st.doneKV("assemble", int64(ds.Len()), map[string]string{
		"pulse":    strconv.Itoa(res.Counts[contract.LabelPulse]),
		"artefact": strconv.Itoa(res.Counts[contract.LabelArtefact]),
	})

	st = begin(logger, "writer", "write", 0)
	arts, err := comp.Writer.WriteDataset(ctx, res.Name, ds)
	if err != nil {
		return res, st.fail(err, "write dataset failed")
	}
	res.Artifacts = arts
	st.done("write", int64(len(arts)))
	return res, nil
}

func sanity(c Components, s Settings) error {
	if c.Trials == nil || c.Candidates == nil || c.Header == nil || c.Writer == nil {
		return errors.New("pipeline: missing components")
	}
	if s.Width < 1 || s.NTSamples < 1 {
		return fmt.Errorf("%w: width=%d ntsamples=%d", contract.ErrInvalidInput, s.Width, s.NTSamples)
	}
	if s.Pulse.Low > s.Pulse.High {
		return fmt.Errorf("%w: pulse dm range [%g, %g]", contract.ErrInvalidInput, s.Pulse.Low, s.Pulse.High)
	}
	return nil
}

// stage 封装单阶段的 start/finish/error 日志、指标与终端提示。
type stage struct {
	l     *diag.Logger
	comp  string
	timer *diag.Timer
	t0    time.Time
	kv    map[string]string
}

func begin(l *diag.Logger, comp, msg string, total int) *stage {
	if t := diag.GetTerminal(); t != nil {
		t.StageStart(comp, total)
	}
	return &stage{l: l, comp: comp, timer: l.Start(comp, msg), t0: time.Now()}
}

func (s *stage) done(msg string, count int64) { s.doneKV(msg, count, nil) }

func (s *stage) doneKV(msg string, count int64, kv map[string]string) {
	s.timer.Finish(msg, count)
	if len(kv) > 0 {
		s.l.DebugStart(s.comp, msg, "", "", kv)
	}
	d := time.Since(s.t0)
	diag.IncOp(s.comp, "finish", "success")
	diag.ObserveDuration(s.comp, msg, d.Milliseconds())
	if t := diag.GetTerminal(); t != nil {
		t.StageFinish(true, d)
	}
}

func (s *stage) fail(err error, msg string) error {
	code := diag.Classify(err)
	s.l.ErrorWithKV(s.comp, string(code), msg+": "+err.Error(), &s.t0, "", "", s.kv)
	diag.IncOp(s.comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(s.comp, string(code))
	}
	if t := diag.GetTerminal(); t != nil {
		t.StageFinish(false, time.Since(s.t0))
	}
	return fmt.Errorf("%s: %w", s.comp, err)
}
