package tsv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"dmtset/pkg/contract"
)

// Columns 候选表固定列序（无表头）。
var Columns = []string{"beam_name", "nn", "mjd", "dm", "width", "snr", "fh", "fl", "image_name", "x", "name_file"}

// Options: 候选表位置。
type Options struct {
	// Path: 制表符分隔的候选表文件（必需）。
	Path string `json:"path"`
}

// Source 从 TSV 文件加载候选体。
type Source struct {
	path string
	open func(string) (io.ReadCloser, error)
}

// New 构造 TSV 候选源。
func New(opts *Options) (*Source, error) {
	if opts == nil || strings.TrimSpace(opts.Path) == "" {
		return nil, fmt.Errorf("candidates: %w: path required", contract.ErrInvalidInput)
	}
	return &Source{path: opts.Path, open: func(p string) (io.ReadCloser, error) { return os.Open(p) }}, nil
}

var _ contract.CandidateSource = (*Source)(nil)

// Load 读取整个候选表。
func (s *Source) Load(ctx context.Context) ([]contract.Candidate, error) {
	f, err := s.open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(ctx, f)
}

// Parse 解析 TSV 流：空行跳过；列数不符或 mjd/dm/snr 不可解析返回 ErrCandidateRow（带行号）。
func Parse(ctx context.Context, r io.Reader) ([]contract.Candidate, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	var out []contract.Candidate
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", contract.ErrCandidateRow, err)
		}
		line, _ := cr.FieldPos(0)
		c, err := parseRow(rec, line)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
}

func parseRow(rec []string, line int) (contract.Candidate, error) {
	if len(rec) != len(Columns) {
		return contract.Candidate{}, fmt.Errorf("%w: line %d has %d columns, want %d", contract.ErrCandidateRow, line, len(rec), len(Columns))
	}
	field := func(i int) string { return strings.TrimSpace(rec[i]) }
	mjdText := field(2)
	mjd, err := decimal.NewFromString(mjdText)
	if err != nil {
		return contract.Candidate{}, fmt.Errorf("%w: line %d mjd %q", contract.ErrCandidateRow, line, mjdText)
	}
	dm, err := strconv.ParseFloat(field(3), 64)
	if err != nil {
		return contract.Candidate{}, fmt.Errorf("%w: line %d dm %q", contract.ErrCandidateRow, line, field(3))
	}
	snr, err := strconv.ParseFloat(field(5), 64)
	if err != nil {
		return contract.Candidate{}, fmt.Errorf("%w: line %d snr %q", contract.ErrCandidateRow, line, field(5))
	}
	return contract.Candidate{
		Line:      line,
		BeamName:  field(0),
		NN:        field(1),
		MJD:       mjd,
		MJDText:   mjdText,
		DM:        dm,
		Width:     field(4),
		SNR:       snr,
		FH:        field(6),
		FL:        field(7),
		ImageName: field(8),
		X:         field(9),
		NameFile:  field(10),
	}, nil
}
