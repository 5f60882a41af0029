// Copyright 2024 The Mergin Maps Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"strconv"
	"strings"
)

// IntVersion parses a "v<N>" project version token into its integer. An
// empty token is treated as v0 (the state of a project that has never
// synced). Ordering between versions must always go through this
// conversion, never lexicographic string comparison: "v9" < "v10" but
// sorts the other way as a string.
func IntVersion(token string) (int, error) {
	if token == "" {
		return 0, nil
	}
	trimmed := strings.TrimPrefix(token, "v")
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("config: invalid version token %q: %w", token, err)
	}
	return n, nil
}

// FormatVersion renders an integer as a "v<N>" token.
func FormatVersion(n int) string {
	return fmt.Sprintf("v%d", n)
}
