package rest

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/sketchdev/wrestler/internal/model"
	"github.com/sketchdev/wrestler/internal/repository"
)

// 一覧取得で予約されているクエリパラメータ
const (
	ParamSort   = "sort"
	ParamFields = "fields"
	ParamLimit  = "limit"
	ParamSkip   = "skip"
)

// Cursor はクエリ文字列から解釈したページング条件。
type Cursor struct {
	Sort   []repository.SortField
	Fields []string
	Limit  int
	Skip   int
	Filter model.Filter
}

// ParseCursor はクエリ文字列からCursorを組み立てる。
// sort・fields・limit・skip以外のキーは等値条件としてFilterに入る。
// sortの既定値はcreatedAtの昇順、limitの既定値はpageSize。
func ParseCursor(q url.Values, pageSize int) (Cursor, error) {
	c := Cursor{
		Sort:   parseSort(q.Get(ParamSort)),
		Fields: splitList(q.Get(ParamFields)),
		Limit:  pageSize,
		Filter: model.Filter{},
	}

	if v := q.Get(ParamLimit); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Cursor{}, model.NewBadRequestError("limit must be a positive integer")
		}
		c.Limit = n
	}
	if v := q.Get(ParamSkip); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Cursor{}, model.NewBadRequestError("skip must be a non-negative integer")
		}
		c.Skip = n
	}

	for key := range q {
		switch key {
		case ParamSort, ParamFields, ParamLimit, ParamSkip:
			continue
		}
		c.Filter[key] = q.Get(key)
	}

	return c, nil
}

// Without はフィルタ・ソートから指定フィールドを除いたCursorを返す。
func (c Cursor) Without(fields ...string) Cursor {
	if len(fields) == 0 {
		return c
	}
	hidden := make(map[string]bool, len(fields))
	for _, f := range fields {
		hidden[f] = true
	}

	filter := model.Filter{}
	for k, v := range c.Filter {
		if !hidden[k] {
			filter[k] = v
		}
	}
	sortFields := make([]repository.SortField, 0, len(c.Sort))
	for _, s := range c.Sort {
		if !hidden[s.Field] {
			sortFields = append(sortFields, s)
		}
	}

	c.Filter = filter
	c.Sort = sortFields
	return c
}

// Query はskipを差し替えたクエリ文字列を返す。
// 呼び出し元のsort・fields・フィルタを保ち、limitは実際に適用した値を入れる。
func (c Cursor) Query(original url.Values, skip int) url.Values {
	q := url.Values{}
	for k, v := range original {
		q[k] = append([]string(nil), v...)
	}
	q.Set(ParamLimit, strconv.Itoa(c.Limit))
	q.Set(ParamSkip, strconv.Itoa(skip))
	return q
}

// parseSort は "a,-b" 形式のソート指定を解釈する。先頭の "-" は降順。
func parseSort(v string) []repository.SortField {
	fields := splitList(v)
	if len(fields) == 0 {
		return []repository.SortField{{Field: model.FieldCreatedAt}}
	}

	out := make([]repository.SortField, 0, len(fields))
	for _, f := range fields {
		desc := strings.HasPrefix(f, "-")
		f = strings.TrimLeft(f, "+-")
		if f == "" {
			continue
		}
		out = append(out, repository.SortField{Field: f, Desc: desc})
	}
	return out
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
