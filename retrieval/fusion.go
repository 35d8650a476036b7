package retrieval

import (
	"sort"

	"github.com/BaSui01/ragforge/types"
)

// DefaultRRFK RRF 平滑常数 k 的默认值。
const DefaultRRFK = 60

// fusedEntry 融合过程中的聚合状态。
type fusedEntry struct {
	candidate types.RetrievedCandidate
	score     float64
	rankSum   int
	lists     int
}

// FuseRRF 以 Reciprocal Rank Fusion 合并多个有序候选列表。
//
// 每个去重后的候选得分为 Σ 1/(k + rank + 1)，rank 从 0 开始；
// 候选未出现的列表贡献 0。排序完全确定：总分降序 →
// 联合排名和升序 → 候选 ID 升序，保证相同输入下输出可复现。
// 输出截断到 topK，候选的 Rank/RawScore 字段被改写为融合后的值。
func FuseRRF(lists [][]types.RetrievedCandidate, k, topK int) []types.RetrievedCandidate {
	if k <= 0 {
		k = DefaultRRFK
	}

	merged := make(map[string]*fusedEntry)
	for _, list := range lists {
		for rank, cand := range list {
			key := fusionKey(cand)
			e, ok := merged[key]
			if !ok {
				e = &fusedEntry{candidate: cand}
				merged[key] = e
			}
			e.score += 1.0 / float64(k+rank+1)
			e.rankSum += rank
			e.lists++
		}
	}

	entries := make([]*fusedEntry, 0, len(merged))
	for _, e := range merged {
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		if entries[i].rankSum != entries[j].rankSum {
			return entries[i].rankSum < entries[j].rankSum
		}
		return fusionKey(entries[i].candidate) < fusionKey(entries[j].candidate)
	})

	if topK > 0 && len(entries) > topK {
		entries = entries[:topK]
	}

	out := make([]types.RetrievedCandidate, 0, len(entries))
	for i, e := range entries {
		c := e.candidate
		c.RawScore = e.score
		c.Rank = i
		out = append(out, c)
	}
	return out
}

// fusionKey 候选的去重键：优先分块 ID，图候选退化为文档 ID。
func fusionKey(c types.RetrievedCandidate) string {
	if c.ChunkID != "" {
		return c.ChunkID
	}
	return "doc:" + c.DocumentID
}
