// Package codec はストレージ固有の表現とワイヤ表現の相互変換を提供する。
//
// ドキュメントストアはIDを独自のキー（例: "_id"）で保持するため、
// 入出力の境界でコアが扱う "id" に写像する。
// ユーザーリソースの秘匿フィールドは出力時に必ず取り除く。
package codec

import (
	"github.com/sketchdev/wrestler/internal/model"
)

// Transformer はレスポンス直前にドキュメントを変換する関数。
type Transformer func(model.Document) model.Document

// NativeIDField はドキュメントストアにおけるIDのキー。
const NativeIDField = "_id"

// Mapper はコアの "id" とストレージ固有のIDキーを写像する。
type Mapper struct {
	NativeID string
}

// DocumentMapper はドキュメントストア用のMapper。
var DocumentMapper = Mapper{NativeID: NativeIDField}

// FilterIn はフィルタのIDキーをストレージ表現に変換する。
func (m Mapper) FilterIn(f model.Filter) model.Filter {
	out := make(model.Filter, len(f))
	for k, v := range f {
		if k == model.FieldID {
			k = m.NativeID
		}
		out[k] = v
	}
	return out
}

// DocIn はドキュメントのIDキーをストレージ表現に変換したコピーを返す。
func (m Mapper) DocIn(doc model.Document) model.Document {
	out := doc.Clone()
	if out == nil {
		return model.Document{}
	}
	if id, ok := out[model.FieldID]; ok {
		delete(out, model.FieldID)
		out[m.NativeID] = id
	}
	return out
}

// DocOut はストレージ表現のドキュメントをワイヤ表現に変換したコピーを返す。
func (m Mapper) DocOut(doc model.Document) model.Document {
	if doc == nil {
		return nil
	}
	out := doc.Clone()
	if id, ok := out[m.NativeID]; ok {
		delete(out, m.NativeID)
		out[model.FieldID] = id
	}
	return out
}

// Field はワイヤ上のフィールド名をストレージ表現に変換する。
func (m Mapper) Field(name string) string {
	if name == model.FieldID {
		return m.NativeID
	}
	return name
}

// SplitID は一括更新の要素から "id" または "_id" を取り出し、残りのフィールドを返す。
func SplitID(item model.Document) (string, model.Document) {
	id := item.String(model.FieldID)
	if id == "" {
		id = item.String(NativeIDField)
	}
	return id, item.Without(model.FieldID, NativeIDField)
}

// StripUserSecrets はユーザードキュメントから秘匿フィールドを取り除く。
func StripUserSecrets(doc model.Document) model.Document {
	if doc == nil {
		return nil
	}
	return doc.Without(model.UserSecretFields...)
}

// Project はfieldsに含まれるキーとIDだけを残したコピーを返す。
// fieldsが空の場合はドキュメント全体を返す。
func Project(doc model.Document, fields []string) model.Document {
	if doc == nil || len(fields) == 0 {
		return doc
	}
	out := make(model.Document, len(fields)+1)
	if id, ok := doc[model.FieldID]; ok {
		out[model.FieldID] = id
	}
	for _, f := range fields {
		if v, ok := doc[f]; ok {
			out[f] = v
		}
	}
	return out
}

// Apply はTransformerがnilでなければ適用する。
func (t Transformer) Apply(doc model.Document) model.Document {
	if t == nil || doc == nil {
		return doc
	}
	return t(doc)
}

// ApplyAll は複数のドキュメントにTransformerを適用する。
func (t Transformer) ApplyAll(docs []model.Document) []model.Document {
	out := make([]model.Document, len(docs))
	for i, doc := range docs {
		out[i] = t.Apply(doc)
	}
	return out
}
