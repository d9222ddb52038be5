package main

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{
		{"sweep"},
		{"calls", "show"},
		{"calls", "unbilled"},
		{"wallet", "balance"},
		{"wallet", "credit"},
		{"wallet", "open"},
		{"wallet", "transactions"},
		{"credits", "grant"},
		{"token"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Fatalf("command %v not registered: %v", path, err)
		}
	}
}

func TestRender(t *testing.T) {
	defer func(prev string) { output = prev }(output)

	var buf bytes.Buffer
	output = "json"
	if err := render(&buf, map[string]int{"billed": 2}, func(w io.Writer) { fmt.Fprint(w, "text") }); err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(buf.String(), `"billed": 2`) {
		t.Fatalf("unexpected json output %q", buf.String())
	}

	buf.Reset()
	output = "text"
	if err := render(&buf, nil, func(w io.Writer) { fmt.Fprint(w, "billed 2 call(s)") }); err != nil {
		t.Fatalf("render: %v", err)
	}
	if buf.String() != "billed 2 call(s)" {
		t.Fatalf("unexpected text output %q", buf.String())
	}
}
