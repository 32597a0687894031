package match

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"JOÃO SILVA", "joao silva"},
		{"  Maria   das   Graças ", "maria das gracas"},
		{"O'Brien, José!", "obrien jose"},
		{"", ""},
		{"   ", ""},
		{"André-Luiz", "andreluiz"},
	}

	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNames(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"JOÃO SILVA", "joao silva", true},
		{"joao carlos silva", "joao pedro silva", true}, // middle tokens ignored
		{"joao silva", "joao souza", false},
		{"joao silva", "pedro silva", false},
		{"joao", "joao silva", false},
		{"", "joao silva", false},
		{"joao silva", "", false},
	}

	for _, tc := range cases {
		if got := Names(tc.a, tc.b); got != tc.want {
			t.Errorf("Names(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestNamesSymmetric(t *testing.T) {
	pairs := [][2]string{
		{"JOÃO SILVA", "joao silva"},
		{"joao carlos silva", "joao silva"},
		{"ana", "ana maria"},
		{"", "x"},
	}
	for _, p := range pairs {
		if Names(p[0], p[1]) != Names(p[1], p[0]) {
			t.Errorf("Names not symmetric for %q / %q", p[0], p[1])
		}
	}
}

func TestEmails(t *testing.T) {
	if !Emails("A@X.com ", "a@x.com") {
		t.Error("expected case-insensitive email match")
	}
	if Emails("", "a@x.com") {
		t.Error("empty email must not match")
	}
	if Emails("a@x.com", "b@x.com") {
		t.Error("different emails must not match")
	}
}

func TestPhones(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"11987654321", "987654321", true},       // area code prefix ignored
		{"+55 11 98765-4321", "987654321", true}, // country code and formatting ignored
		{"0987654321", "987654321", true},        // leading zero ignored
		{"987654321", "987654322", false},
		{"", "987654321", false},
		{"abc", "987654321", false},
	}

	for _, tc := range cases {
		if got := Phones(tc.a, tc.b); got != tc.want {
			t.Errorf("Phones(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
		if got := Phones(tc.b, tc.a); got != tc.want {
			t.Errorf("Phones(%q, %q) = %v, want %v (symmetry)", tc.b, tc.a, got, tc.want)
		}
	}
}
