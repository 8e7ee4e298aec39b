package pipeline

import (
	"context"
	"fmt"
	"testing"

	"dmtset/internal/dmtime"
	"dmtset/pkg/contract"
	hstatic "dmtset/plugins/header/static"
)

type discardWriter struct{}

func (discardWriter) WriteDataset(ctx context.Context, name string, ds contract.Dataset) ([]contract.ArtifactID, error) {
	return nil, ds.Validate()
}

func (discardWriter) WritePredictions(ctx context.Context, name string, preds []int64) (contract.ArtifactID, error) {
	return "", nil
}

// BenchmarkRun 64 个 DM 行 × 20000 样本，32 个候选体，宽 256。
func BenchmarkRun(b *testing.B) {
	trials := memTrials{}
	for r := 0; r < 64; r++ {
		vs := make([]float32, 20000)
		for c := range vs {
			vs[c] = float32((c*13 + r*7) % 97)
		}
		trials[contract.FileID(fmt.Sprintf("b_DM%d.dat", r))] = encodeF32(vs)
	}
	var cands []contract.Candidate
	for i := 0; i < 32; i++ {
		// 每个候选体间隔 500 样本（0.864s 采样）
		mjd := fmt.Sprintf("60000.%05d", 500+i*500)
		cands = append(cands, cand(i+1, mjd, 10))
	}
	hdr, err := hstatic.New(&hstatic.Options{TStart: "60000", TSamp: "0.864"})
	if err != nil {
		b.Fatal(err)
	}
	comp := Components{Trials: trials, Candidates: sliceCandidates(cands), Header: hdr, Writer: discardWriter{}}
	set := Settings{NTSamples: 4, Width: 256, Seed: 1, Pulse: dmtime.PulseRange{Low: 1, High: 100}, SkipOutOfRange: true}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Run(context.Background(), comp, set, nil); err != nil {
			b.Fatal(err)
		}
	}
}
