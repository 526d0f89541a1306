package xhash

import "testing"

func TestCanonicalKeyOrderIndependent(t *testing.T) {
	a := map[string]interface{}{"b": 1, "a": 2}
	b := map[string]interface{}{"a": 2, "b": 1}

	ca, err := Canonical(a)
	if err != nil {
		t.Fatalf("canonical a: %v", err)
	}
	cb, err := Canonical(b)
	if err != nil {
		t.Fatalf("canonical b: %v", err)
	}

	if string(ca) != string(cb) {
		t.Fatalf("expected identical canonical encodings, got %s vs %s", ca, cb)
	}
	if string(ca) != `{"a":2,"b":1}` {
		t.Fatalf("unexpected encoding: %s", ca)
	}
}

func TestHashStable(t *testing.T) {
	v := struct {
		X int    `json:"x"`
		Y string `json:"y"`
	}{X: 1, Y: "z"}

	h1 := Hash(v)
	h2 := Hash(v)
	if h1 != h2 {
		t.Fatalf("hash not stable across calls")
	}
}

func TestHashDiffersOnContent(t *testing.T) {
	h1 := Hash(map[string]interface{}{"a": 1})
	h2 := Hash(map[string]interface{}{"a": 2})
	if h1 == h2 {
		t.Fatalf("expected different hashes for different content")
	}
}
