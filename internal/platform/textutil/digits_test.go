package textutil

import "testing"

func TestFoldDigits(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "persian digits", input: "۰۹۱۲۳۴۵۶۷۸۹", expected: "09123456789"},
		{name: "arabic indic digits", input: "٠٩١٢٣٤٥٦٧٨٩", expected: "09123456789"},
		{name: "mixed scripts", input: "tel: ۰۹۱۲-345٦٧", expected: "tel: 0912-34567"},
		{name: "ascii passthrough", input: "09120000000", expected: "09120000000"},
		{name: "empty", input: "", expected: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if actual := FoldDigits(tc.input); actual != tc.expected {
				t.Fatalf("expected %q got %q", tc.expected, actual)
			}
		})
	}
}
