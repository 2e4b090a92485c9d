package langmeta

import "testing"

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "pt_br", want: "pt-BR"},
		{in: " EN-us ", want: "en-US"},
		{in: "ru", want: "ru"},
		{in: "", want: ""},
	}

	for _, tc := range cases {
		got := canonicalize(tc.in)
		if got != tc.want {
			t.Fatalf("canonicalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestResolve(t *testing.T) {
	t.Run("exact match", func(t *testing.T) {
		got := Resolve("ru")
		if got.Name != "Russian" || got.Native != "Русский" {
			t.Fatalf("unexpected result: %#v", got)
		}
	})

	t.Run("normalized variant", func(t *testing.T) {
		got := Resolve("pt_br")
		if got.Name != "Brazilian Portuguese" {
			t.Fatalf("unexpected result: %#v", got)
		}
	})

	t.Run("base fallback", func(t *testing.T) {
		got := Resolve("de-AT")
		if got.Name != "German" {
			t.Fatalf("unexpected result: %#v", got)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		got := Resolve("xx")
		if got.Name != "xx" || got.Native != "xx" {
			t.Fatalf("unexpected result: %#v", got)
		}
		if Known("xx") {
			t.Fatal("Known(xx) = true, want false")
		}
		if !Known("en") {
			t.Fatal("Known(en) = false, want true")
		}
	})
}
