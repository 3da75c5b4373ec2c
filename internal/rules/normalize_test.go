package rules

import "testing"

func TestFold(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Hồ Chí Minh", "ho chi minh"},
		{"Đà Nẵng", "da nang"},
		{"  Hà Nội ", "ha noi"},
		{"Quận 1", "quan 1"},
		{"", ""},
		{"already plain", "already plain"},
	}
	for _, c := range cases {
		if got := Fold(c.in); got != c.want {
			t.Errorf("Fold(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestXorContains(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"TP Hà Nội", "Hà Nội", true},
		{"Hà Nội", "TP Hà Nội", true},
		{"Hà Nội", "Ha Noi", false}, // equal after folding: both directions hold
		{"Hà Nội", "Đà Nẵng", false},
		{"", "Hà Nội", false},
		{"Hà Nội", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		if got := xorContains(c.a, c.b); got != c.want {
			t.Errorf("xorContains(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestFoldedContains(t *testing.T) {
	if !foldedContains("Hồ Chí Minh", "ho chi minh") {
		t.Errorf("equal folded strings must contain each other")
	}
	if foldedContains("", "x") || foldedContains("x", "") {
		t.Errorf("empty strings must not match")
	}
}
