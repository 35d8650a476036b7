package ingest

import "strings"

// ChunkerConfig 递归字符分块配置。
type ChunkerConfig struct {
	ChunkSize    int `json:"chunk_size" yaml:"chunk_size"`       // 块大小（字符）
	ChunkOverlap int `json:"chunk_overlap" yaml:"chunk_overlap"` // 相邻块重叠（字符）
}

// DefaultChunkerConfig 返回默认分块配置。
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		ChunkSize:    1000,
		ChunkOverlap: 200,
	}
}

// Chunker 递归字符分块器：优先在段落/句子/词边界切分，
// 保证相邻块共享 ChunkOverlap 个字符的上下文。
type Chunker struct {
	cfg ChunkerConfig
	// 分隔符优先级：段落 > 行 > 句子 > 词
	separators []string
}

// NewChunker 创建分块器。
func NewChunker(cfg ChunkerConfig) *Chunker {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 5
	}
	return &Chunker{
		cfg:        cfg,
		separators: []string{"\n\n", "\n", ". ", "。", "! ", "? ", " "},
	}
}

// Split 将文本切为有序块。空文本返回空切片。
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= c.cfg.ChunkSize {
		return []string{text}
	}

	units := c.splitUnits(text, c.separators)

	var chunks []string
	var cur strings.Builder
	for _, unit := range units {
		if cur.Len() > 0 && cur.Len()+len(unit) > c.cfg.ChunkSize {
			chunk := strings.TrimSpace(cur.String())
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			tail := overlapTail(cur.String(), c.cfg.ChunkOverlap)
			cur.Reset()
			cur.WriteString(tail)
		}
		cur.WriteString(unit)
	}
	if last := strings.TrimSpace(cur.String()); last != "" {
		chunks = append(chunks, last)
	}
	return chunks
}

// splitUnits 递归地把文本切成不超过 ChunkSize 的基本单元，
// 保留分隔符在前一单元末尾。
func (c *Chunker) splitUnits(text string, separators []string) []string {
	if len(text) <= c.cfg.ChunkSize {
		return []string{text}
	}
	if len(separators) == 0 {
		// 无边界可用：硬切
		var out []string
		for len(text) > c.cfg.ChunkSize {
			out = append(out, text[:c.cfg.ChunkSize])
			text = text[c.cfg.ChunkSize:]
		}
		if text != "" {
			out = append(out, text)
		}
		return out
	}

	sep := separators[0]
	parts := strings.Split(text, sep)
	if len(parts) == 1 {
		return c.splitUnits(text, separators[1:])
	}

	var out []string
	for i, part := range parts {
		if i < len(parts)-1 {
			part += sep
		}
		if len(part) > c.cfg.ChunkSize {
			out = append(out, c.splitUnits(part, separators[1:])...)
		} else if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// overlapTail 取文本末尾至多 n 个字符，尽量从词边界开始。
func overlapTail(text string, n int) string {
	if n <= 0 || len(text) <= n {
		if n <= 0 {
			return ""
		}
		return text
	}
	tail := text[len(text)-n:]
	if idx := strings.IndexByte(tail, ' '); idx > 0 && idx < n/2 {
		tail = tail[idx+1:]
	}
	return tail
}

// contextSnippet 取相邻块的边界片段。
func contextSnippet(text string, n int, fromEnd bool) string {
	if len(text) <= n {
		return text
	}
	if fromEnd {
		return text[len(text)-n:]
	}
	return text[:n]
}
