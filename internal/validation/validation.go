// Package validation はリソースごとのフィールド検証を提供する。
//
// POST/PUTではスキーマのすべてのフィールドを、PATCHでは送信されたフィールドだけを検証し、
// 失敗したフィールドをまとめて1つの検証エラーとして返す。
package validation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/sketchdev/wrestler/internal/model"
	"github.com/sketchdev/wrestler/internal/pipeline"
)

type fieldRules struct {
	name  string
	rules []validation.Rule
}

// Validator はスキーマに従ってリクエスト本文を検証するステップ。
type Validator struct {
	schemas map[string][]fieldRules
	skip    func(rc *pipeline.Context) bool
}

// NewValidator はValidatorを生成する。patternが正規表現として不正な場合はエラーを返す。
// skipがtrueを返すリクエストは検証しない。
func NewValidator(schemas map[string]model.Schema, skip func(rc *pipeline.Context) bool) (*Validator, error) {
	compiled := make(map[string][]fieldRules, len(schemas))
	for resource, schema := range schemas {
		fields, err := compile(schema)
		if err != nil {
			return nil, fmt.Errorf("invalid schema for %s: %w", resource, err)
		}
		compiled[resource] = fields
	}
	return &Validator{schemas: compiled, skip: skip}, nil
}

func compile(schema model.Schema) ([]fieldRules, error) {
	names := make([]string, 0, len(schema))
	for name := range schema {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]fieldRules, 0, len(names))
	for _, name := range names {
		rules, err := Rules(schema[name])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		fields = append(fields, fieldRules{name: name, rules: rules})
	}
	return fields, nil
}

// MsgInvalid は型が合わない値に対するメッセージ。
const MsgInvalid = "is invalid"

// stringValue は文字列以外の値を拒否する。長さ・形式の検証は文字列にしか適用できない。
var stringValue = validation.By(func(value interface{}) error {
	if value == nil {
		return nil
	}
	if _, ok := value.(string); !ok {
		return errors.New(MsgInvalid)
	}
	return nil
})

// Rules はFieldRuleをozzo-validationのルール列に変換する。
func Rules(r model.FieldRule) ([]validation.Rule, error) {
	var rules []validation.Rule
	if r.Required {
		rules = append(rules, validation.Required)
	}
	if r.MinLength != nil || r.MaxLength != nil || r.Email || r.Pattern != "" {
		rules = append(rules, stringValue)
	}
	if r.MinLength != nil || r.MaxLength != nil {
		min, max := 0, 0
		if r.MinLength != nil {
			min = *r.MinLength
		}
		if r.MaxLength != nil {
			max = *r.MaxLength
		}
		rules = append(rules, validation.Length(min, max))
	}
	if r.Email {
		rules = append(rules, is.Email)
	}
	if r.Pattern != "" {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, err
		}
		rules = append(rules, validation.Match(re))
	}
	if len(r.OneOf) > 0 {
		rules = append(rules, validation.In(r.OneOf...))
	}
	return rules, nil
}

// Step はパイプラインのステップとして本文を検証する。
func (v *Validator) Step(_ context.Context, rc *pipeline.Context) pipeline.Outcome {
	if v.skip != nil && v.skip(rc) {
		return pipeline.Next()
	}

	resource := rc.Resource
	if resource == model.ResourceBulk {
		resource = model.ResourceUser
	}
	fields, ok := v.schemas[resource]
	if !ok {
		return pipeline.Next()
	}

	errs := model.FieldErrors{}
	switch rc.Method {
	case http.MethodPost, http.MethodPut:
		check(errs, "", rc.Body, fields, false)
	case http.MethodPatch:
		if rc.Items != nil {
			for i, item := range rc.Items {
				check(errs, strconv.Itoa(i)+".", item, fields, true)
			}
		} else {
			check(errs, "", rc.Body, fields, true)
		}
	}

	if err := errs.Err(); err != nil {
		return pipeline.Fail(err)
	}
	return pipeline.Next()
}

// check はdocを検証し、失敗したフィールドをerrsに追加する。
// partialがtrueの場合はdocに含まれるフィールドだけを検証する。
func check(errs model.FieldErrors, prefix string, doc model.Document, fields []fieldRules, partial bool) {
	for _, f := range fields {
		value, present := doc[f.name]
		if partial && !present {
			continue
		}
		if err := validation.Validate(value, f.rules...); err != nil {
			errs.Add(prefix+f.name, err.Error())
		}
	}
}
