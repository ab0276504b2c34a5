package pipeline

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"scheme-rag-go/internal/model"
)

// DefaultSeparators 按优先级排列：段落、换行、句号、空格。
var DefaultSeparators = []string{"\n\n", "\n", ".", " "}

// RecursiveSplitter 按分隔符优先级递归切分文本，长度以字符（rune）计。
// 分隔符保留在后一片段的开头；不含任何分隔符的超长片段原样输出。
type RecursiveSplitter struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

// NewRecursiveSplitter 校验参数并使用默认分隔符创建切分器。
func NewRecursiveSplitter(chunkSize, chunkOverlap int) (*RecursiveSplitter, error) {
	if chunkSize <= 0 || chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("%w: chunk_overlap (%d) 必须小于 chunk_size (%d)", model.ErrConfiguration, chunkOverlap, chunkSize)
	}
	return &RecursiveSplitter{
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
		Separators:   DefaultSeparators,
	}, nil
}

// Split 返回去除首尾空白后的非空分块。
func (s *RecursiveSplitter) Split(text string) []string {
	return s.split(text, s.Separators)
}

// SplitDocuments 依次切分所有文档，每个分块带上来源地区、路径与文档内序号。
func (s *RecursiveSplitter) SplitDocuments(docs []model.SchemeDocument) []model.SchemeChunk {
	var chunks []model.SchemeChunk
	for _, doc := range docs {
		for i, text := range s.Split(doc.Text) {
			chunks = append(chunks, model.SchemeChunk{
				Region:      doc.Region,
				Source:      doc.Path,
				ChunkIndex:  i,
				TextContent: text,
			})
		}
	}
	return chunks
}

func (s *RecursiveSplitter) split(text string, separators []string) []string {
	var final []string

	// 选取文本中出现的第一个分隔符；都不出现时使用最后一个且不再递归
	separator := separators[len(separators)-1]
	var rest []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var good []string
	for _, piece := range splitKeepingSeparator(text, separator) {
		if utf8.RuneCountInString(piece) < s.ChunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, s.merge(good, "")...)
			good = nil
		}
		if len(rest) == 0 {
			final = append(final, piece)
		} else {
			final = append(final, s.split(piece, rest)...)
		}
	}
	if len(good) > 0 {
		final = append(final, s.merge(good, "")...)
	}
	return final
}

// splitKeepingSeparator 按 sep 切分，sep 附在后一片段开头，丢弃空片段。
func splitKeepingSeparator(text, sep string) []string {
	var parts []string
	if sep == "" {
		for _, r := range text {
			parts = append(parts, string(r))
		}
		return parts
	}
	raw := strings.Split(text, sep)
	for i, p := range raw {
		if i > 0 {
			p = sep + p
		}
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// merge 贪心合并小片段，超出 ChunkSize 时输出当前分块，并保留不超过 ChunkOverlap 的尾部作为下一块的开头。
func (s *RecursiveSplitter) merge(splits []string, separator string) []string {
	sepLen := utf8.RuneCountInString(separator)
	var docs []string
	var current []string
	total := 0

	joinedLen := func(n int) int {
		if len(current) > 0 {
			return total + n + sepLen
		}
		return total + n
	}

	for _, d := range splits {
		n := utf8.RuneCountInString(d)
		if joinedLen(n) > s.ChunkSize {
			if len(current) > 0 {
				if doc := joinChunk(current, separator); doc != "" {
					docs = append(docs, doc)
				}
				for total > s.ChunkOverlap || (joinedLen(n) > s.ChunkSize && total > 0) {
					drop := utf8.RuneCountInString(current[0])
					if len(current) > 1 {
						drop += sepLen
					}
					total -= drop
					current = current[1:]
				}
			}
		}
		current = append(current, d)
		total += n
		if len(current) > 1 {
			total += sepLen
		}
	}
	if doc := joinChunk(current, separator); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

func joinChunk(parts []string, separator string) string {
	return strings.TrimSpace(strings.Join(parts, separator))
}
