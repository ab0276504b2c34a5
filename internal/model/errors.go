package model

import "errors"

// 业务错误分类，调用方通过 errors.Is 判断。
var (
	// ErrConfiguration 表示缺少必需的凭证或配置非法，启动阶段即失败。
	ErrConfiguration = errors.New("configuration error")

	// ErrExtraction 表示单个文档无法解码或解析；该文件被跳过，批次继续。
	ErrExtraction = errors.New("extraction error")

	// ErrExternalService 表示 embedding、向量库、聊天模型、对象存储、队列或暂存库调用失败。
	// 当前操作（一次导入或一次请求）中止，不重试。
	ErrExternalService = errors.New("external service error")

	// ErrInvalidRequest 表示请求体不符合用户画像的结构约定。
	ErrInvalidRequest = errors.New("invalid request")
)
