package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sketchdev/wrestler/internal/model"
)

// Policy はYAMLのポリシーファイルの内容。
//
//	rules:
//	  - roles: [admin]
//	    resource: widget
//	    methods: "*"
//	  - roles: "*"
//	    resource: widget
//	    methods: [GET, POST]
//	    onlyOwned: true
//	schemas:
//	  widget:
//	    name: {required: true, maxLength: 50}
//	templates:
//	  confirm:
//	    subject: "Confirm your account"
//	    markdown: "Your code is **{{.Code}}**"
type Policy struct {
	Rules     []model.Rule                   `yaml:"rules"`
	Schemas   map[string]model.Schema        `yaml:"schemas"`
	Templates map[string]model.EmailTemplate `yaml:"templates"`
}

// LoadPolicy はポリシーファイルを読み込む。pathが空の場合は空のポリシーを返す。
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return &Policy{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	return ParsePolicy(data)
}

// ParsePolicy はYAMLをPolicyとして解釈する。未知のキーはエラーにする。
func ParsePolicy(data []byte) (*Policy, error) {
	policy := &Policy{}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(policy); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	for i, r := range policy.Rules {
		switch r.Resource {
		case "":
			return nil, fmt.Errorf("rule %d: resource is required", i)
		case model.Wildcard:
			return nil, fmt.Errorf("rule %d: resource must name a single resource, %q is not supported", i, model.Wildcard)
		}
	}

	return policy, nil
}
