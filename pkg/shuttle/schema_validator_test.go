// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package shuttle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateParams(t *testing.T) {
	minLen := 1
	schema := NewObjectSchema("args", map[string]*JSONSchema{
		"sql":    NewStringSchema("query").WithLength(&minLen, nil),
		"reason": NewStringSchema("why"),
	}, []string{"sql"}).Closed()

	tests := []struct {
		name    string
		params  map[string]interface{}
		wantErr string
	}{
		{"valid", map[string]interface{}{"sql": "SELECT 1"}, ""},
		{"missing required", map[string]interface{}{"reason": "x"}, "sql"},
		{"empty string", map[string]interface{}{"sql": ""}, "sql"},
		{"wrong type", map[string]interface{}{"sql": 42}, "sql"},
		{"unknown property", map[string]interface{}{"sql": "SELECT 1", "extra": true}, "extra"},
		{"nil params", nil, "sql"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParams(schema, tt.params)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid arguments")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNormalizeSchema(t *testing.T) {
	s := NormalizeSchema(&JSONSchema{Properties: map[string]*JSONSchema{
		"tags": {Items: &JSONSchema{Type: "string"}},
	}})
	assert.Equal(t, "object", s.Type)
	assert.Equal(t, "array", s.Properties["tags"].Type)

	empty := NormalizeSchema(&JSONSchema{Type: "object"})
	assert.NotNil(t, empty.Properties)
	assert.Nil(t, NormalizeSchema(nil))
}

func TestToLowerUnderscore(t *testing.T) {
	assert.Equal(t, "max_rows", toLowerUnderscore("maxRows"))
	assert.Equal(t, "max_rows", toLowerUnderscore("MaxRows"))
	assert.Equal(t, "max_rows", toLowerUnderscore("max_rows"))
}
