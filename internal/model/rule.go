package model

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Wildcard はすべてのロール・メソッドに一致する指定。
const Wildcard = "*"

// Set はロールまたはメソッドの集合。Anyがtrueの場合はすべてに一致する。
type Set struct {
	Any    bool
	Values []string
}

// AnyOf は"*"を表すSetを返す。
func AnyOf() Set {
	return Set{Any: true}
}

// SetOf は指定値からなるSetを返す。
func SetOf(values ...string) Set {
	return Set{Values: values}
}

// Contains はvalueが集合に含まれるかを返す。
func (s Set) Contains(value string) bool {
	if s.Any {
		return true
	}
	for _, v := range s.Values {
		if v == value {
			return true
		}
	}
	return false
}

// UnmarshalYAML は "*" または文字列のリストを受け付ける。
func (s *Set) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value == Wildcard {
			*s = AnyOf()
			return nil
		}
		*s = SetOf(node.Value)
		return nil
	case yaml.SequenceNode:
		var values []string
		if err := node.Decode(&values); err != nil {
			return err
		}
		for _, v := range values {
			if v == Wildcard {
				*s = AnyOf()
				return nil
			}
		}
		*s = SetOf(values...)
		return nil
	default:
		return fmt.Errorf("line %d: expected %q or a list of strings", node.Line, Wildcard)
	}
}

// Rule はACLルールを表す。
// 宣言順に評価され、最初に構造的に一致したルールだけが採用される。
type Rule struct {
	Roles     Set    `yaml:"roles"`
	Resource  string `yaml:"resource"`
	Methods   Set    `yaml:"methods"`
	OnlyOwned bool   `yaml:"onlyOwned"`
}

// Matches はルールが{role, resource, method}に一致するかを返す。
func (r Rule) Matches(role, resource, method string) bool {
	if r.Resource != resource {
		return false
	}
	return r.Roles.Contains(role) && r.Methods.Contains(strings.ToUpper(method))
}

// Normalize はメソッド名を大文字に揃える。
func (r Rule) Normalize() Rule {
	methods := make([]string, len(r.Methods.Values))
	for i, m := range r.Methods.Values {
		methods[i] = strings.ToUpper(m)
	}
	r.Methods.Values = methods
	r.Resource = strings.ToLower(r.Resource)
	return r
}
