package phone

import "testing"

func TestNormalizeE164(t *testing.T) {
	n := NewNormalizer("us")

	cases := map[string]string{
		"(650) 253-0000":   "+16502530000",
		" +1 650 253 0000": "+16502530000",
		"not a phone":      "not a phone",
		"":                 "",
	}
	for in, want := range cases {
		if got := n.NormalizeE164(in); got != want {
			t.Fatalf("NormalizeE164(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestZeroValueNormalizerUsesDefaultRegion(t *testing.T) {
	var n Normalizer
	if !n.IsPlausible("650 253 0000") {
		t.Fatalf("expected US number to be plausible with default region")
	}
	if n.IsPlausible("12") {
		t.Fatalf("expected two digits to be implausible")
	}
}
