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

// Package config locates spendq's data directory.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// DataDirEnv overrides the data directory.
const DataDirEnv = "SPENDQ_DATA_DIR"

// DataDir returns the spendq data directory: $SPENDQ_DATA_DIR when set,
// otherwise ~/.spendq. The result is absolute and ~ is expanded.
//
// It reads the environment directly because it is needed to find the config
// file before viper is initialized.
//
// Examples:
//
//	SPENDQ_DATA_DIR=/srv/spendq   -> /srv/spendq
//	SPENDQ_DATA_DIR=~/spend       -> /home/user/spend
//	SPENDQ_DATA_DIR not set       -> /home/user/.spendq
func DataDir() string {
	if dir := os.Getenv(DataDirEnv); dir != "" {
		return expandPath(dir)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".spendq"
	}
	return filepath.Join(homeDir, ".spendq")
}

// DataPath returns name inside the data directory.
func DataPath(name string) string {
	return filepath.Join(DataDir(), name)
}

// expandPath expands ~ and resolves to absolute path
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return absPath
}
