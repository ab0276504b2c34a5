package pipeline

import "strings"

// Clean 把换行与任意连续空白折叠为单个空格并去除首尾空白。非法 UTF-8 序列先替换为 U+FFFD。
func Clean(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	return strings.Join(strings.Fields(s), " ")
}

// CleanValue 用于来源类型不确定的值：字符串按 Clean 处理，其他类型返回空串。
func CleanValue(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return Clean(s)
}
