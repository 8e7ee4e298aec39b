// Package dmtime 实现 DM-Time 图像构建与窗口化采样核心：
// 试验文件排序、图像堆叠、历元到列下标映射、候选分类、窗口提取/归一化、
// 负样本拒绝采样与数据集装配。全部为纯内存、单线程、给定种子可复现的操作。
package dmtime

import (
	"fmt"
	"math"
	"path"
	"sort"
	"strconv"
	"strings"

	"dmtset/pkg/contract"
)

const trialSuffix = ".dat"

// ParseDM 从文件名中解析 DM 数值：取基名中最后一个 "DM" 与 ".dat" 之间的子串。
// 例：beam0_DM12.50.dat -> 12.5。
func ParseDM(name string) (float64, error) {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if !strings.HasSuffix(base, trialSuffix) {
		return 0, fmt.Errorf("%w: %s", contract.ErrTrialName, name)
	}
	stem := strings.TrimSuffix(base, trialSuffix)
	i := strings.LastIndex(stem, "DM")
	if i < 0 {
		return 0, fmt.Errorf("%w: %s", contract.ErrTrialName, name)
	}
	v, err := strconv.ParseFloat(stem[i+2:], 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s", contract.ErrTrialName, name)
	}
	return v, nil
}

// Catalog 解析全部文件名并按 DM 升序排序，返回试验列表与平行的 DM 列表。
// 任一文件名不可解析或 DM 重复均为致命配置错误。
func Catalog(ids []contract.FileID) ([]contract.TrialFile, []float64, error) {
	if len(ids) == 0 {
		return nil, nil, contract.ErrNoTrials
	}
	files := make([]contract.TrialFile, 0, len(ids))
	for _, id := range ids {
		dm, err := ParseDM(string(id))
		if err != nil {
			return nil, nil, err
		}
		files = append(files, contract.TrialFile{DM: dm, ID: id})
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].DM < files[j].DM })
	dms := make([]float64, len(files))
	for i, f := range files {
		if i > 0 && f.DM == files[i-1].DM {
			return nil, nil, fmt.Errorf("%w: %v (%s, %s)", contract.ErrDuplicateDM, f.DM, files[i-1].ID, f.ID)
		}
		dms[i] = f.DM
	}
	return files, dms, nil
}
