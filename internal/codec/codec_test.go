package codec

import (
	"reflect"
	"testing"

	"github.com/sketchdev/wrestler/internal/model"
)

func TestMapper_FilterIn(t *testing.T) {
	got := DocumentMapper.FilterIn(model.Filter{"id": "abc", "createdBy": "u1"})
	want := model.Filter{"_id": "abc", "createdBy": "u1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FilterIn = %v, want %v", got, want)
	}
}

// DocIn/DocOutでIDキーが往復し、元のドキュメントは変更されないことを検証
func TestMapper_DocInOut(t *testing.T) {
	doc := model.Document{"id": "abc", "name": "coconut"}

	native := DocumentMapper.DocIn(doc)
	if native["_id"] != "abc" {
		t.Errorf("_id = %v, want abc", native["_id"])
	}
	if _, ok := native["id"]; ok {
		t.Error("id should be renamed")
	}
	if doc["id"] != "abc" {
		t.Error("input document must not be modified")
	}

	wire := DocumentMapper.DocOut(native)
	if !reflect.DeepEqual(wire, doc) {
		t.Errorf("DocOut = %v, want %v", wire, doc)
	}

	if DocumentMapper.DocOut(nil) != nil {
		t.Error("DocOut(nil) should be nil")
	}
	if DocumentMapper.Field("id") != "_id" || DocumentMapper.Field("name") != "name" {
		t.Error("Field mapping is wrong")
	}
}

func TestSplitID(t *testing.T) {
	tests := []struct {
		name   string
		item   model.Document
		wantID string
	}{
		{"id", model.Document{"id": "a", "name": "x"}, "a"},
		{"_id", model.Document{"_id": "b", "name": "x"}, "b"},
		{"両方ある場合はidを優先", model.Document{"id": "a", "_id": "b", "name": "x"}, "a"},
		{"なし", model.Document{"name": "x"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, rest := SplitID(tt.item)
			if id != tt.wantID {
				t.Errorf("id = %q, want %q", id, tt.wantID)
			}
			if !reflect.DeepEqual(rest, model.Document{"name": "x"}) {
				t.Errorf("rest = %v", rest)
			}
		})
	}
}

// 秘匿フィールドが出力から取り除かれることを検証
func TestStripUserSecrets(t *testing.T) {
	doc := model.Document{
		"id":               "u1",
		"email":            "a@example.com",
		"passwordHash":     "h",
		"salt":             "s",
		"iterations":       10,
		"keylen":           64,
		"digest":           "sha512",
		"confirmationCode": "c",
		"recoveryCode":     "r",
		"changeEmailCode":  "e",
		"confirmed":        true,
	}

	got := StripUserSecrets(doc)
	want := model.Document{"id": "u1", "email": "a@example.com", "confirmed": true}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("StripUserSecrets = %v, want %v", got, want)
	}
	if doc["passwordHash"] != "h" {
		t.Error("input document must not be modified")
	}
}

func TestProject(t *testing.T) {
	doc := model.Document{"id": "a", "name": "coconut", "company": "acme"}

	if got := Project(doc, nil); !reflect.DeepEqual(got, doc) {
		t.Errorf("Project(nil) = %v", got)
	}

	got := Project(doc, []string{"name", "missing"})
	if !reflect.DeepEqual(got, model.Document{"id": "a", "name": "coconut"}) {
		t.Errorf("Project = %v", got)
	}
}

func TestTransformer_Apply(t *testing.T) {
	var none Transformer
	doc := model.Document{"passwordHash": "h"}
	if got := none.Apply(doc); !reflect.DeepEqual(got, doc) {
		t.Error("nil transformer should return the document unchanged")
	}

	strip := Transformer(StripUserSecrets)
	got := strip.ApplyAll([]model.Document{doc, {"email": "a@example.com"}})
	if len(got) != 2 || len(got[0]) != 0 || got[1]["email"] != "a@example.com" {
		t.Errorf("ApplyAll = %v", got)
	}
}
