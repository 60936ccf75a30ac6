package model

// FieldRule は1フィールドの検証ルール。未指定の項目は検証しない。
type FieldRule struct {
	Required  bool   `yaml:"required"`
	MinLength *int   `yaml:"minLength"`
	MaxLength *int   `yaml:"maxLength"`
	Email     bool   `yaml:"email"`
	Pattern   string `yaml:"pattern"`
	OneOf     []any  `yaml:"oneOf"`
}

// Schema はリソースのフィールド名から検証ルールへの対応。
type Schema map[string]FieldRule
