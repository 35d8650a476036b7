package generate

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// TiktokenTokenizer 基于 tiktoken 编码的精确 token 计数。
type TiktokenTokenizer struct {
	enc    *tiktoken.Tiktoken
	logger *zap.Logger
}

// NewTiktokenTokenizer 创建 tiktoken 计数器。
// model 指定 tiktoken 模型（如 "gpt-4o", "gpt-3.5-turbo"）。
func NewTiktokenTokenizer(model string, logger *zap.Logger) (*TiktokenTokenizer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("create tiktoken encoding for %s: %w", model, err)
	}
	return &TiktokenTokenizer{enc: enc, logger: logger}, nil
}

// CountTokens implements Tokenizer.
func (t *TiktokenTokenizer) CountTokens(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// EstimatorTokenizer 无需编码数据下载的近似计数器（~4 字符/token）。
// tiktoken 初始化失败时的回退实现。
type EstimatorTokenizer struct{}

// CountTokens implements Tokenizer.
func (EstimatorTokenizer) CountTokens(text string) int {
	return len(text) / 4
}

// NewTokenizer 优先创建 tiktoken 计数器，失败时回退到估算并记录警告。
func NewTokenizer(model string, logger *zap.Logger) Tokenizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	tok, err := NewTiktokenTokenizer(model, logger)
	if err != nil {
		logger.Warn("tiktoken unavailable, falling back to estimator", zap.Error(err))
		return EstimatorTokenizer{}
	}
	return tok
}
