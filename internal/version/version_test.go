package version

import "testing"

func TestUserAgent(t *testing.T) {
	Version, Commit = "1.2.3", "abc1234"
	t.Cleanup(func() { Version, Commit = "dev", "unknown" })

	if got := UserAgent(); got != "kookgw/1.2.3 (+abc1234)" {
		t.Errorf("UserAgent() = %q", got)
	}
	if got := String(); got != "1.2.3 (abc1234) built unknown" {
		t.Errorf("String() = %q", got)
	}
}
