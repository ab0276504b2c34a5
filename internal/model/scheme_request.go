// Package model 定义了导入流程与推荐服务共用的数据结构。
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// LocationKey 是 Demographics 中驱动地区范围推荐的约定键名（约定，不强制）。
const LocationKey = "Location"

// Attributes 是开放的键值映射，叶子值只允许字符串、数字、布尔值或 null。
type Attributes map[string]any

// UnmarshalJSON 解析对象并拒绝嵌套对象或数组。数字保留原始文本。
func (a *Attributes) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*a = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	for k, v := range raw {
		switch v.(type) {
		case nil, string, bool, json.Number:
		default:
			return fmt.Errorf("%w: 字段 '%s' 只允许字符串、数字或布尔值", ErrInvalidRequest, k)
		}
	}
	*a = Attributes(raw)
	return nil
}

// Text 返回 key 对应叶子值的文本形式；缺失、null 或空白时 ok 为 false。
func (a Attributes) Text(key string) (string, bool) {
	v, exists := a[key]
	if !exists || v == nil {
		return "", false
	}
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case json.Number:
		s = val.String()
	case bool:
		s = strconv.FormatBool(val)
	case float64:
		s = strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		s = strconv.Itoa(val)
	default:
		s = fmt.Sprint(val)
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// SchemeRequest 是一次推荐请求的用户画像。Objective 必须出现，但允许为空字符串。
type SchemeRequest struct {
	Objective             string     `json:"Objective"`
	Demographics          Attributes `json:"Demographics" binding:"required"`
	SpecificRequirements  Attributes `json:"SpecificRequirements"`
	AdditionalInformation Attributes `json:"AdditionalInformation"`
}

// UnmarshalJSON 在普通解码之外检查 Objective 字段是否存在且不为 null。
func (r *SchemeRequest) UnmarshalJSON(data []byte) error {
	type plain SchemeRequest
	var shadow struct {
		plain
		Objective *string `json:"Objective"`
	}
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	if shadow.Objective == nil {
		return fmt.Errorf("%w: 缺少字段 'Objective'", ErrInvalidRequest)
	}
	*r = SchemeRequest(shadow.plain)
	r.Objective = *shadow.Objective
	return nil
}

// Location 返回 Demographics.Location，缺失时 ok 为 false。
func (r SchemeRequest) Location() (string, bool) {
	return r.Demographics.Text(LocationKey)
}

// QAResult 是检索问答链的输出：原样返回模型答案，前端读取 result 字段。
type QAResult struct {
	Query  string `json:"query"`
	Result string `json:"result"`
}
