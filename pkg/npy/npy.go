// Package npy 写出 NumPy .npy（格式 1.0）文件：uint8 张量、定宽 unicode 字符串与 int64 数组。
// 仅覆盖本项目需要的 dtype；按行流式写出，不在内存中拼接整份载荷。
package npy

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	magic = "\x93NUMPY"
	// 头部（magic+版本+长度+字典）总长对齐到 64 字节。
	headerAlign = 64
)

var ErrFormat = errors.New("npy: format invalid")

// Header: .npy 头部的已解析视图。
type Header struct {
	Descr string
	Shape []int
}

// Len 返回元素总数。
func (h Header) Len() int {
	n := 1
	for _, d := range h.Shape {
		n *= d
	}
	return n
}

func shapeString(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	if len(shape) == 1 {
		return "(" + parts[0] + ",)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// WriteHeader 写出 magic、版本 1.0 与填充到 64 字节边界的头部字典。
func WriteHeader(w io.Writer, descr string, shape []int) error {
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }", descr, shapeString(shape))
	pre := len(magic) + 2 + 2
	total := pre + len(dict) + 1
	if pad := total % headerAlign; pad != 0 {
		dict += strings.Repeat(" ", headerAlign-pad)
	}
	dict += "\n"
	if len(dict) > 0xffff {
		return fmt.Errorf("%w: header too long", ErrFormat)
	}
	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.Write([]byte{1, 0})
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(dict)))
	buf.WriteString(dict)
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteUint8 写出形状为 shape 的 |u1 数组；chunks 依序拼接后长度必须等于元素总数。
func WriteUint8(w io.Writer, shape []int, chunks [][]uint8) error {
	want := Header{Shape: shape}.Len()
	got := 0
	for _, c := range chunks {
		got += len(c)
	}
	if got != want {
		return fmt.Errorf("%w: %d bytes for shape %v", ErrFormat, got, shape)
	}
	if err := WriteHeader(w, "|u1", shape); err != nil {
		return err
	}
	for _, c := range chunks {
		if _, err := w.Write(c); err != nil {
			return err
		}
	}
	return nil
}

// UnicodeWidth 返回容纳全部字符串所需的最小码点宽度（至少 1）。
func UnicodeWidth(ss []string) int {
	n := 1
	for _, s := range ss {
		if l := utf8.RuneCountInString(s); l > n {
			n = l
		}
	}
	return n
}

// WriteUnicode 写出一维 <U{width} 数组（UTF-32LE，不足补零）。
func WriteUnicode(w io.Writer, ss []string, width int) error {
	if width < UnicodeWidth(ss) {
		return fmt.Errorf("%w: width %d too small", ErrFormat, width)
	}
	if err := WriteHeader(w, "<U"+strconv.Itoa(width), []int{len(ss)}); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	cell := make([]byte, 4*width)
	for _, s := range ss {
		clear(cell)
		i := 0
		for _, r := range s {
			binary.LittleEndian.PutUint32(cell[i*4:], uint32(r))
			i++
		}
		if _, err := bw.Write(cell); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteInt64 写出一维 <i8 数组。
func WriteInt64(w io.Writer, vs []int64) error {
	if err := WriteHeader(w, "<i8", []int{len(vs)}); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	var cell [8]byte
	for _, v := range vs {
		binary.LittleEndian.PutUint64(cell[:], uint64(v))
		if _, err := bw.Write(cell[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadHeader 解析 1.0 格式头部，读取位置停在数据区起点。
func ReadHeader(r io.Reader) (Header, error) {
	pre := make([]byte, len(magic)+4)
	if _, err := io.ReadFull(r, pre); err != nil {
		return Header{}, err
	}
	if string(pre[:len(magic)]) != magic || pre[len(magic)] != 1 {
		return Header{}, ErrFormat
	}
	n := binary.LittleEndian.Uint16(pre[len(magic)+2:])
	dict := make([]byte, n)
	if _, err := io.ReadFull(r, dict); err != nil {
		return Header{}, err
	}
	return parseDict(string(dict))
}

func parseDict(s string) (Header, error) {
	var h Header
	i := strings.Index(s, "'descr': '")
	if i < 0 {
		return h, ErrFormat
	}
	rest := s[i+len("'descr': '"):]
	j := strings.IndexByte(rest, '\'')
	if j < 0 {
		return h, ErrFormat
	}
	h.Descr = rest[:j]
	i = strings.Index(s, "'shape': (")
	if i < 0 {
		return h, ErrFormat
	}
	rest = s[i+len("'shape': ("):]
	j = strings.IndexByte(rest, ')')
	if j < 0 {
		return h, ErrFormat
	}
	for _, p := range strings.Split(rest[:j], ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		d, err := strconv.Atoi(p)
		if err != nil {
			return h, ErrFormat
		}
		h.Shape = append(h.Shape, d)
	}
	return h, nil
}
