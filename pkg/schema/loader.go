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
package schema

import (
	_ "embed"
)

//go:embed default.yaml
var defaultYAML []byte

// Default returns the built-in description of the spend database.
func Default() *Description {
	d, err := Parse(defaultYAML)
	if err != nil {
		panic("schema: invalid built-in description: " + err.Error())
	}
	return d
}

// Load reads path, or returns the built-in description when path is empty.
func Load(path string) (*Description, error) {
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}
