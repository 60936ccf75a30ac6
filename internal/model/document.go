package model

import (
	"fmt"
	"strconv"
	"time"
)

// 予約済みフィールド名
const (
	FieldID        = "id"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
	FieldCreatedBy = "createdBy"
	FieldUpdatedBy = "updatedBy"
)

// 特別扱いされるリソース名
const (
	ResourceUser = "user"
	ResourceBulk = "_bulk"
)

// TimestampLayout はドキュメントに保存する日時の書式。
// 固定長のUTC表記のため、文字列比較でも時刻順に並ぶ。
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Document はリソースの1レコードを表す任意のキー/値集合。
type Document map[string]any

// Filter はストレージ検索時の等値条件を表す。
type Filter map[string]any

// Clone はドキュメントを深くコピーする。
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

// String はキーの値が文字列であればそれを返す。
func (d Document) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// ID はドキュメントのIDを返す。
func (d Document) ID() string {
	return d.String(FieldID)
}

// Without は指定キーを除いたコピーを返す。
func (d Document) Without(keys ...string) Document {
	out := d.Clone()
	if out == nil {
		out = Document{}
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// Merge はfilterに他のフィルタ条件を重ねた新しいフィルタを返す。
// 同じキーは後のフィルタが優先される。
func (f Filter) Merge(others ...Filter) Filter {
	out := make(Filter, len(f))
	for k, v := range f {
		out[k] = v
	}
	for _, o := range others {
		for k, v := range o {
			out[k] = v
		}
	}
	return out
}

// Conflicts は同じキーに異なる値を持つ条件があるかを返す。
// 所有者条件と衝突するフィルタは、重ねると別のドキュメントを指してしまう。
func (f Filter) Conflicts(other Filter) bool {
	for k, v := range other {
		if mine, ok := f[k]; ok && fmt.Sprint(mine) != fmt.Sprint(v) {
			return true
		}
	}
	return false
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return map[string]any(Document(val).Clone())
	case Document:
		return val.Clone()
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// FormatTimestamp は日時をTimestampLayoutの文字列に変換する。
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp はドキュメントに保存された日時を解釈する。
func ParseTimestamp(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, val)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	default:
		return time.Time{}, false
	}
}

// IntValue はJSON由来の数値（float64など）をintに変換する。
func IntValue(v any) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		return int(val), true
	case string:
		i, err := strconv.Atoi(val)
		return i, err == nil
	default:
		return 0, false
	}
}
