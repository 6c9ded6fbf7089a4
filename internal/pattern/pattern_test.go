package pattern

import (
	"errors"
	"strings"
	"testing"
)

func TestCompileRoundTrip(t *testing.T) {
	text := "0F B7 8A ? ? ? ? 66 85 C9 75 EA 33 C9 66 89 0C 46 EB 77"
	p := Compile(text)

	src := strings.Split(text, " ")
	if p.Len() != len(src) {
		t.Fatalf("expected %d tokens - got %d", len(src), p.Len())
	}

	for i, tok := range src {
		got := p.At(i)
		if tok == "?" {
			if !got.Wildcard {
				t.Fatalf("expected token %d to be a wildcard", i)
			}
			continue
		}

		if got.Wildcard || got.String() != tok {
			t.Fatalf("expected token %d to be %s - got %s", i, tok, got)
		}
	}
}

func TestCompileSingleDigit(t *testing.T) {
	p := Compile("8 0f F a")

	exp := []byte{0x08, 0x0F, 0x0F, 0x0A}
	if p.Len() != len(exp) {
		t.Fatalf("expected %d tokens - got %d", len(exp), p.Len())
	}
	for i, b := range exp {
		if p.At(i).Byte != b || p.At(i).Wildcard {
			t.Fatalf("expected token %d to be %02X - got %s", i, b, p.At(i))
		}
	}
}

func TestCompileAllOrNothing(t *testing.T) {
	for _, text := range []string{
		"AA ?? ZZ",
		"AA BB CCC",
		"AA  BB",
		" AA",
		"AA ?A",
		"AA ???",
		"0x AA",
		"AA\tBB",
		"G0",
		"",
	} {
		p := Compile(text)
		if !p.Empty() || p.Valid() {
			t.Fatalf("expected %q to compile to the empty pattern - got %d tokens", text, p.Len())
		}

		_, err := Parse(text)
		if !errors.Is(err, ErrSyntax) {
			t.Fatalf("expected a syntax error for %q - got %v", text, err)
		}
	}
}

func TestParseReportsFirstBadToken(t *testing.T) {
	_, err := Parse("AA ?? ZZ QQ")

	var serr *SyntaxError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *SyntaxError - got %T", err)
	}
	if serr.Index != 2 || serr.Token != "ZZ" {
		t.Fatalf("expected token 2 \"ZZ\" - got %d %q", serr.Index, serr.Token)
	}
}

func TestCompileTrailingDelimiter(t *testing.T) {
	p := Compile("AA BB ")
	if p.Len() != 2 {
		t.Fatalf("expected 2 tokens - got %d", p.Len())
	}
}

func TestWildcardMatchesAnything(t *testing.T) {
	p := Compile("AA ?? BB")

	for b := 0; b < 256; b++ {
		if !p.MatchAt([]byte{0xAA, byte(b), 0xBB}, 0) {
			t.Fatalf("expected match with middle byte %02X", b)
		}
	}

	if p.MatchAt([]byte{0xAA, 0x00, 0xCC}, 0) {
		t.Fatal("expected no match for AA 00 CC")
	}
}

func TestMatchAtBounds(t *testing.T) {
	p := Compile("AA BB")
	buf := []byte{0x00, 0xAA}

	if p.MatchAt(buf, 1) {
		t.Fatal("pattern must not match past the end of the buffer")
	}
	if p.MatchAt(buf, -1) {
		t.Fatal("pattern must not match at a negative offset")
	}

	var empty Pattern
	if empty.MatchAt(buf, 0) {
		t.Fatal("the empty pattern must never match")
	}
}

func TestTokensIsACopy(t *testing.T) {
	p := Compile("AA BB")
	toks := p.Tokens()
	toks[0].Byte = 0x00

	if p.At(0).Byte != 0xAA {
		t.Fatal("Tokens must not expose the compiled pattern")
	}
}

func TestString(t *testing.T) {
	p := Compile("e8 ? ? ? ? b8")
	if p.String() != "E8 ?? ?? ?? ?? B8" {
		t.Fatalf("unexpected canonical form %q", p.String())
	}
}

func TestMustCompilePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic")
		}
	}()

	MustCompile("XX")
}
