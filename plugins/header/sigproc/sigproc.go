// Package sigproc 读取 SIGPROC filterbank 文件头（HEADER_START ... HEADER_END）。
package sigproc

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"

	"dmtset/pkg/contract"
)

const (
	headerStart = "HEADER_START"
	headerEnd   = "HEADER_END"
	// maxKeyLen 关键字长度上限，防止损坏文件导致超大分配。
	maxKeyLen = 80
	maxStrLen = 4096
)

type kind int

const (
	kInt kind = iota
	kDouble
	kString
	kByte
)

// keywords 已知关键字的取值类型。未知关键字视为格式错误（无法确定长度）。
var keywords = map[string]kind{
	"telescope_id": kInt, "machine_id": kInt, "data_type": kInt, "barycentric": kInt,
	"pulsarcentric": kInt, "nbits": kInt, "nsamples": kInt, "nchans": kInt, "nifs": kInt,
	"nbeams": kInt, "ibeam": kInt,
	"tstart": kDouble, "tsamp": kDouble, "fch1": kDouble, "foff": kDouble, "refdm": kDouble,
	"az_start": kDouble, "za_start": kDouble, "src_raj": kDouble, "src_dej": kDouble,
	"period": kDouble, "refrf": kDouble,
	"source_name": kString, "rawdatafile": kString,
	"signed": kByte,
}

// Options: filterbank 文件路径。
type Options struct {
	Path string `json:"path"`
}

// Source 从 filterbank 文件解析头部。
type Source struct {
	path string
}

// New 构造 SIGPROC 头部源。
func New(opts *Options) (*Source, error) {
	if opts == nil || strings.TrimSpace(opts.Path) == "" {
		return nil, fmt.Errorf("sigproc: %w: path required", contract.ErrInvalidInput)
	}
	return &Source{path: opts.Path}, nil
}

var _ contract.HeaderSource = (*Source)(nil)

// Header 读取并解析头部；Basename 取文件名去扩展名。
func (s *Source) Header(ctx context.Context) (contract.Header, error) {
	if err := ctx.Err(); err != nil {
		return contract.Header{}, err
	}
	f, err := os.Open(s.path)
	if err != nil {
		return contract.Header{}, err
	}
	defer f.Close()
	h, err := Parse(bufio.NewReader(f))
	if err != nil {
		return contract.Header{}, fmt.Errorf("sigproc %s: %w", s.path, err)
	}
	base := filepath.Base(s.path)
	h.Basename = strings.TrimSuffix(base, filepath.Ext(base))
	return h, nil
}

// Parse 解析头部。tstart/tsamp 以最短可回环十进制表示转为 decimal。
func Parse(r io.Reader) (contract.Header, error) {
	var h contract.Header
	first, err := readString(r, maxKeyLen)
	if err != nil {
		return h, err
	}
	if first != headerStart {
		return h, fmt.Errorf("%w: missing %s", contract.ErrInvalidInput, headerStart)
	}
	var haveStart, haveSamp bool
	for {
		key, err := readString(r, maxKeyLen)
		if err != nil {
			return h, err
		}
		if key == headerEnd {
			break
		}
		k, ok := keywords[key]
		if !ok {
			return h, fmt.Errorf("%w: unknown keyword %q", contract.ErrInvalidInput, key)
		}
		switch k {
		case kInt:
			var v int32
			if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
				return h, err
			}
			switch key {
			case "nchans":
				h.NChans = int(v)
			case "nbits":
				h.NBits = int(v)
			}
		case kDouble:
			var v float64
			if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
				return h, err
			}
			switch key {
			case "tstart":
				h.StartMJD, haveStart = decimal.NewFromFloat(v), true
			case "tsamp":
				h.TSamp, haveSamp = decimal.NewFromFloat(v), true
			case "fch1":
				h.FCh1 = v
			case "foff":
				h.FOff = v
			}
		case kString:
			if _, err := readString(r, maxStrLen); err != nil {
				return h, err
			}
		case kByte:
			var b [1]byte
			if _, err := io.ReadFull(r, b[:]); err != nil {
				return h, err
			}
		}
	}
	if !haveStart || !haveSamp {
		return h, fmt.Errorf("%w: tstart/tsamp missing", contract.ErrInvalidInput)
	}
	return h, nil
}

func readString(r io.Reader, limit int) (string, error) {
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if n < 0 || int(n) > limit {
		return "", fmt.Errorf("%w: string length %d", contract.ErrInvalidInput, n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

// 编码辅助：写出与 Parse 对称的字段（用于生成测试夹具与头部转储）。

// PutString 写出带长度前缀的字符串。
func PutString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// PutInt 写出整型关键字。
func PutInt(w io.Writer, key string, v int32) error {
	if err := PutString(w, key); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, v)
}

// PutDouble 写出双精度关键字。
func PutDouble(w io.Writer, key string, v float64) error {
	if err := PutString(w, key); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, math.Float64bits(v))
}
