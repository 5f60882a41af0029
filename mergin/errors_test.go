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

package mergin

import (
	"errors"
	"testing"
)

func TestErrorString(t *testing.T) {
	testCases := [...]struct {
		err  *Error
		want string
	}{
		0: {err: newError(StatusInvalidProject, nil), want: "invalid project"},
		1: {err: newError(StatusTransport, errors.New("timeout")), want: "transport: timeout"},
		2: {err: newError(ErrorStatus(999), nil), want: "generic"},
	}
	for i, tt := range testCases {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("%d: Error() = %q, want %q", i, got, tt.want)
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := diffFailureErr(cause)
	if !errors.Is(err, cause) {
		t.Errorf("expected errors.Is to find the wrapped cause")
	}

	var target *Error
	if !errors.As(err, &target) {
		t.Fatalf("expected errors.As to recover the *Error")
	}
	if target.Status != StatusDiffFailure {
		t.Errorf("Status = %v, want %v", target.Status, StatusDiffFailure)
	}
}
