package guard

import "testing"

func TestIsBlocked(t *testing.T) {
	cases := []struct {
		host    string
		blocked bool
	}{
		{"127.0.0.1", true},
		{"10.0.0.1", true},
		{"192.168.1.1", true},
		{"169.254.169.254", true},
		{"172.16.0.5", true},
		{"::1", true},
		{"fc00::1", true},
		{"fe80::1", true},
		{"8.8.8.8", false},
		{"1.1.1.1", false},
		{"example.com", false}, // DNS names are never blocked by IsBlocked alone
	}

	for _, c := range cases {
		if got := IsBlocked(c.host); got != c.blocked {
			t.Errorf("IsBlocked(%q) = %v, want %v", c.host, got, c.blocked)
		}
	}
}

func TestGuardOrFail(t *testing.T) {
	if err := GuardOrFail("127.0.0.1"); err == nil {
		t.Fatal("expected BlockedAddress error for loopback literal")
	} else if _, ok := err.(*BlockedAddress); !ok {
		t.Fatalf("expected *BlockedAddress, got %T", err)
	}

	if err := GuardOrFail("example.com"); err != nil {
		t.Fatalf("expected DNS name to pass through unchecked, got %v", err)
	}
}

func TestClassifyIPReasons(t *testing.T) {
	cases := map[string]Classification{
		"127.0.0.1": Loopback,
		"10.0.0.1":  Private,
		"169.254.1.1": LinkLocal,
		"::1":       Loopback,
		"fc00::1":   UniqueLocal,
		"fe80::1":   LinkLocal,
		"8.8.8.8":   NotBlocked,
	}
	for host, want := range cases {
		ip := parseLiteral(host)
		if ip == nil {
			t.Fatalf("parseLiteral(%q) returned nil", host)
		}
		if got := ClassifyIP(ip); got != want {
			t.Errorf("ClassifyIP(%q) = %q, want %q", host, got, want)
		}
	}
}
