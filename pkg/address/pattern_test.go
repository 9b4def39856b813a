package address

import "testing"

func TestInvalidAddresses(t *testing.T) {
	for _, s := range []string{"", "/"} {
		if _, err := Compile(s); err == nil {
			t.Fatalf("expected %q to be invalid", s)
		}
	}
}

func TestDoubleStarMatchesEverything(t *testing.T) {
	p, err := Compile("/**")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	for _, addr := range []string{"/a", "/a/b", "/a/b/c", "/x"} {
		if !p.Matches(addr) {
			t.Fatalf("expected %q to match /**", addr)
		}
	}
}

func TestSingleStarSegment(t *testing.T) {
	p, err := Compile("/a/*/b")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if p.Matches("/a/b") {
		t.Fatalf("/a/*/b should not match /a/b")
	}
	if p.Matches("/a/x/y/b") {
		t.Fatalf("/a/*/b should not match /a/x/y/b")
	}
	if !p.Matches("/a/x/b") {
		t.Fatalf("/a/*/b should match /a/x/b")
	}
}

func TestTrailingMultiStar(t *testing.T) {
	p, err := Compile("/a/**")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	for _, addr := range []string{"/a", "/a/b", "/a/b/c"} {
		if !p.Matches(addr) {
			t.Fatalf("expected %q to match /a/**", addr)
		}
	}
	if p.Matches("/x") {
		t.Fatalf("/a/** should not match /x")
	}
}

func TestStarDoesNotMatchEmptySegment(t *testing.T) {
	p, err := Compile("/a/*")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if p.Matches("/a") {
		t.Fatalf("/a/* should not match /a (empty segment)")
	}
}

func TestTrailingSlashNormalizes(t *testing.T) {
	p, err := Compile("/sub/a")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !p.Matches("/sub/a/") {
		t.Fatalf("trailing slash should normalize away")
	}
}

func TestTrailingMultiStarOnSignalingAddress(t *testing.T) {
	p, err := Compile("/$p2p/signal/**")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !p.Matches("/$p2p/signal/abc123") {
		t.Fatalf("expected match on signaling address")
	}
}
