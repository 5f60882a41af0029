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

import "testing"

func TestIntVersion(t *testing.T) {
	testCases := [...]struct {
		token   string
		want    int
		wantErr bool
	}{
		0: {token: "v0", want: 0},
		1: {token: "v9", want: 9},
		2: {token: "v10", want: 10},
		3: {token: "", want: 0},
		4: {token: "bogus", wantErr: true},
		5: {token: "v", wantErr: true},
	}

	for i, tt := range testCases {
		got, err := IntVersion(tt.token)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%d: expected error for token %q", i, tt.token)
			}
			continue
		}
		if err != nil {
			t.Errorf("%d: unexpected error: %v", i, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%d: IntVersion(%q) = %d, want %d", i, tt.token, got, tt.want)
		}
	}
}

func TestIntVersionOrdersByInteger(t *testing.T) {
	v9, _ := IntVersion("v9")
	v10, _ := IntVersion("v10")
	if !(v9 < v10) {
		t.Errorf("expected v9 < v10 numerically, got %d and %d", v9, v10)
	}
	if !("v10" < "v9") {
		t.Errorf("expected the lexicographic trap to still hold for this test to be meaningful")
	}
}

func TestFormatVersion(t *testing.T) {
	testCases := [...]struct {
		n    int
		want string
	}{
		0: {n: 0, want: "v0"},
		1: {n: 42, want: "v42"},
	}
	for i, tt := range testCases {
		if got := FormatVersion(tt.n); got != tt.want {
			t.Errorf("%d: FormatVersion(%d) = %q, want %q", i, tt.n, got, tt.want)
		}
	}
}
