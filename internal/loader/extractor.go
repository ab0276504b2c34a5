package loader

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/lu4p/cat"

	"scheme-rag-go/internal/model"
	"scheme-rag-go/pkg/tika"
)

// Extractor 把文件字节转换为文本。无法解码或解析时返回包装了 model.ErrExtraction 的错误。
type Extractor interface {
	Name() string
	Extract(ctx context.Context, fileName string, data []byte) (string, error)
}

// PlainTextExtractor 以严格 UTF-8 读取纯文本文件。
type PlainTextExtractor struct{}

func (PlainTextExtractor) Name() string { return "plain" }

func (PlainTextExtractor) Extract(_ context.Context, fileName string, data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %s 不是合法的 UTF-8 文本", model.ErrExtraction, fileName)
	}
	return string(data), nil
}

const (
	wordprocessingNS    = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	defaultDocumentPart = "word/document.xml"
	contentTypesPart    = "[Content_Types].xml"
	mainDocumentType    = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

// OOXMLExtractor 解析 .docx 压缩包的主文档部件，按段落输出文本。
// 主文档路径取自 [Content_Types].xml，缺失时使用 word/document.xml。
type OOXMLExtractor struct{}

func (OOXMLExtractor) Name() string { return "ooxml" }

func (OOXMLExtractor) Extract(_ context.Context, fileName string, data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %s 不是 zip 格式: %v", model.ErrExtraction, fileName, err)
	}
	part := mainDocumentPart(zr)
	for _, f := range zr.File {
		if f.Name != part {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("%w: 打开 %s 失败: %v", model.ErrExtraction, f.Name, err)
		}
		defer rc.Close()
		text, err := paragraphText(rc)
		if err != nil {
			return "", fmt.Errorf("%w: 解析 %s 的 %s 失败: %v", model.ErrExtraction, fileName, part, err)
		}
		return text, nil
	}
	return "", fmt.Errorf("%w: %s 中没有 %s", model.ErrExtraction, fileName, part)
}

type contentTypes struct {
	Overrides []struct {
		PartName    string `xml:"PartName,attr"`
		ContentType string `xml:"ContentType,attr"`
	} `xml:"Override"`
}

// mainDocumentPart 从 [Content_Types].xml 查找主文档部件路径（去掉开头的 /）。
func mainDocumentPart(zr *zip.Reader) string {
	for _, f := range zr.File {
		if f.Name != contentTypesPart {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return defaultDocumentPart
		}
		defer rc.Close()
		var ct contentTypes
		if err := xml.NewDecoder(rc).Decode(&ct); err != nil {
			return defaultDocumentPart
		}
		for _, o := range ct.Overrides {
			if o.ContentType == mainDocumentType && o.PartName != "" {
				return strings.TrimPrefix(o.PartName, "/")
			}
		}
		break
	}
	return defaultDocumentPart
}

// paragraphText 流式读取 document.xml：w:t 为文本，w:tab 为制表符，w:br/w:cr 与段落结束为换行。
func paragraphText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var b strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Space != wordprocessingNS {
				continue
			}
			switch el.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			if el.Name.Space != wordprocessingNS {
				continue
			}
			switch el.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(el)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// CatExtractor 使用 lu4p/cat 提取 docx/odt/rtf 文本。
// cat 不认识的格式会原样返回输入字节，因此只接受 zip 或 RTF 容器，且结果不能等于输入。
type CatExtractor struct{}

var (
	zipMagic = []byte("PK\x03\x04")
	rtfMagic = []byte("{\\rtf")
)

func (CatExtractor) Name() string { return "cat" }

func (CatExtractor) Extract(_ context.Context, fileName string, data []byte) (text string, err error) {
	if !bytes.HasPrefix(data, zipMagic) && !bytes.HasPrefix(data, rtfMagic) {
		return "", fmt.Errorf("%w: cat 不支持 %s 的文件格式", model.ErrExtraction, fileName)
	}
	// cat 在遇到损坏的压缩包时可能 panic
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: cat 解析 %s 时 panic: %v", model.ErrExtraction, fileName, r)
		}
	}()
	text, err = cat.FromBytes(data)
	if err != nil {
		return "", fmt.Errorf("%w: cat 无法解析 %s: %v", model.ErrExtraction, fileName, err)
	}
	if text == string(data) {
		return "", fmt.Errorf("%w: cat 未能识别 %s 的格式", model.ErrExtraction, fileName)
	}
	return text, nil
}

// TikaExtractor 将文件发送到 Apache Tika 服务器解析，可处理旧版二进制 .doc。
type TikaExtractor struct {
	Client *tika.Client
}

func (TikaExtractor) Name() string { return "tika" }

func (e TikaExtractor) Extract(ctx context.Context, fileName string, data []byte) (string, error) {
	return e.Client.ExtractText(ctx, bytes.NewReader(data), fileName)
}

// FallbackExtractor 依次尝试各个策略，遇到 ErrExtraction 时换下一个；
// 某个策略返回空白文本也视为失败。全部失败时返回合并后的错误。
type FallbackExtractor struct {
	Strategies []Extractor
}

func (f FallbackExtractor) Name() string {
	names := make([]string, len(f.Strategies))
	for i, s := range f.Strategies {
		names[i] = s.Name()
	}
	return "fallback(" + strings.Join(names, ",") + ")"
}

func (f FallbackExtractor) Extract(ctx context.Context, fileName string, data []byte) (string, error) {
	var errs []error
	for _, s := range f.Strategies {
		text, err := s.Extract(ctx, fileName, data)
		if err == nil && strings.TrimSpace(text) == "" {
			err = fmt.Errorf("%w: %s 提取结果为空", model.ErrExtraction, s.Name())
		}
		if err == nil {
			return text, nil
		}
		if !errors.Is(err, model.ErrExtraction) {
			return "", err
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}
	if len(errs) == 0 {
		return "", fmt.Errorf("%w: 没有可用的提取策略", model.ErrExtraction)
	}
	return "", errors.Join(errs...)
}

// NewWordExtractor 构建 .doc/.docx 的提取链：OOXML -> cat -> Tika（tikaClient 非空时）。
func NewWordExtractor(tikaClient *tika.Client) FallbackExtractor {
	strategies := []Extractor{OOXMLExtractor{}, CatExtractor{}}
	if tikaClient != nil {
		strategies = append(strategies, TikaExtractor{Client: tikaClient})
	}
	return FallbackExtractor{Strategies: strategies}
}
