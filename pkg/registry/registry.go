package registry

import (
	"bytes"
	"encoding/json"

	"dmtset/pkg/contract"
	ccsv "dmtset/plugins/candidates/tsv"
	cflaky "dmtset/plugins/classifier/flaky"
	cmock "dmtset/plugins/classifier/mock"
	ctfs "dmtset/plugins/classifier/tfserving"
	hsig "dmtset/plugins/header/sigproc"
	hstatic "dmtset/plugins/header/static"
	pfile "dmtset/plugins/pages/file"
	predis "dmtset/plugins/pages/redis"
	tfs "dmtset/plugins/trials/filesystem"
	wnpy "dmtset/plugins/writer/npy"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewTrialStore 工厂签名：接收原样 JSON Options。
type NewTrialStore func(raw json.RawMessage) (contract.TrialStore, error)

// NewCandidateSource 工厂签名：接收原样 JSON Options。
type NewCandidateSource func(raw json.RawMessage) (contract.CandidateSource, error)

// NewHeaderSource 工厂签名：接收原样 JSON Options。
type NewHeaderSource func(raw json.RawMessage) (contract.HeaderSource, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.DatasetWriter, error)

// NewPageSource 工厂签名：接收原样 JSON Options。
type NewPageSource func(raw json.RawMessage) (contract.PageSource, error)

// NewClassifier 工厂签名：接收原样 JSON Options。
type NewClassifier func(raw json.RawMessage) (contract.Classifier, error)

// Trials 工厂注册表（显式、零反射）。
var Trials = map[string]NewTrialStore{
	// fs: 本地目录
	"fs": func(raw json.RawMessage) (contract.TrialStore, error) {
		var opts tfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return tfs.New(&opts)
	},
}

// Candidates 工厂注册表。
var Candidates = map[string]NewCandidateSource{
	// tsv: 制表符分隔候选表
	"tsv": func(raw json.RawMessage) (contract.CandidateSource, error) {
		var opts ccsv.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return ccsv.New(&opts)
	},
}

// Header 工厂注册表。
var Header = map[string]NewHeaderSource{
	// sigproc: filterbank 文件头
	"sigproc": func(raw json.RawMessage) (contract.HeaderSource, error) {
		var opts hsig.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return hsig.New(&opts)
	},
	// static: 配置给定 tstart/tsamp
	"static": func(raw json.RawMessage) (contract.HeaderSource, error) {
		var opts hstatic.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return hstatic.New(&opts)
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// npy: .npy 数据集 + JSONL 清单（原子替换可配置）
	"npy": func(raw json.RawMessage) (contract.DatasetWriter, error) {
		var opts wnpy.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wnpy.New(&opts)
	},
}

// Pages 工厂注册表。构造即打开来源，调用方负责 Close。
var Pages = map[string]NewPageSource{
	"file": func(raw json.RawMessage) (contract.PageSource, error) {
		var opts pfile.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return pfile.New(&opts)
	},
	"redis": func(raw json.RawMessage) (contract.PageSource, error) {
		var opts predis.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return predis.New(&opts)
	},
}

// Classifier 工厂注册表。
var Classifier = map[string]NewClassifier{
	"tfserving": func(raw json.RawMessage) (contract.Classifier, error) { return ctfs.New(raw) },
	"mock":      func(raw json.RawMessage) (contract.Classifier, error) { return cmock.New(raw) },
	"flaky":     func(raw json.RawMessage) (contract.Classifier, error) { return cflaky.New(raw) },
}
