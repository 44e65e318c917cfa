package version

import "testing"

func TestString(t *testing.T) {
	if got := String("get-input"); got != "get-input dev (dev)" {
		t.Fatalf("String() = %q", got)
	}
}
