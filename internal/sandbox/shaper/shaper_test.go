package shaper

import (
	"strings"
	"testing"
)

func TestIsAsyncShape(t *testing.T) {
	cases := map[string]bool{
		"1 + 1":                             false,
		"return [1,2,3].map(x=>x*x)":        true,
		"await fetch('http://x/')":          true,
		"'a string with the word awaitish'": true, // deliberate substring false-positive, preserved
	}
	for code, want := range cases {
		if got := IsAsyncShape(code); got != want {
			t.Errorf("IsAsyncShape(%q) = %v, want %v", code, got, want)
		}
	}
}

func TestSanitizeRemovesKnownPaths(t *testing.T) {
	msg := map[string]interface{}{
		"channel": map[string]interface{}{
			"data": map[string]interface{}{
				"command_stats": []interface{}{"a", "b"},
				"keep":          "yes",
			},
			"commands": []interface{}{"x"},
			"blocks":   []interface{}{"y"},
			"name":     "general",
		},
		"command": map[string]interface{}{
			"description": "long text",
			"name":        "eval",
		},
		"user": "alice",
	}

	clean := Sanitize(msg)

	channel := clean["channel"].(map[string]interface{})
	if _, ok := channel["commands"]; ok {
		t.Error("expected channel.commands to be removed")
	}
	if _, ok := channel["blocks"]; ok {
		t.Error("expected channel.blocks to be removed")
	}
	data := channel["data"].(map[string]interface{})
	if _, ok := data["command_stats"]; ok {
		t.Error("expected channel.data.command_stats to be removed")
	}
	if data["keep"] != "yes" {
		t.Error("expected unrelated field channel.data.keep to survive")
	}
	if channel["name"] != "general" {
		t.Error("expected unrelated field channel.name to survive")
	}
	command := clean["command"].(map[string]interface{})
	if _, ok := command["description"]; ok {
		t.Error("expected command.description to be removed")
	}
	if command["name"] != "eval" {
		t.Error("expected unrelated field command.name to survive")
	}

	// original must be untouched
	origChannel := msg["channel"].(map[string]interface{})
	if _, ok := origChannel["commands"]; !ok {
		t.Error("Sanitize must not mutate the original msg")
	}
}

func TestShapeExpressionForm(t *testing.T) {
	out, err := Shape("1 + 1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "toString(eval('1 + 1'))") {
		t.Fatalf("expected eval-wrapped expression, got:\n%s", out)
	}
}

func TestShapeAsyncFormInlinesExplicitReturn(t *testing.T) {
	out, err := Shape("return [1,2,3].map(x=>x*x)", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "toString((async function evaluate()") {
		t.Fatalf("expected async-wrapped statement, got:\n%s", out)
	}
	// code containing an explicit return is inlined verbatim, not routed
	// through eval (return is illegal at the top level of eval'd source)
	// and not double-prefixed with another return.
	if !strings.Contains(out, "return [1,2,3].map(x=>x*x)") {
		t.Fatalf("expected code inlined verbatim, got:\n%s", out)
	}
	if strings.Contains(out, "return return") {
		t.Fatalf("expected no double return prefix, got:\n%s", out)
	}
}

func TestShapeAsyncFormPrefixesReturnForBareAwaitExpression(t *testing.T) {
	code := "await fetch('http://127.0.0.1/').then(r=>r.status)"
	out, err := Shape(code, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "return "+code) {
		t.Fatalf("expected bare await expression prefixed with return, got:\n%s", out)
	}
}

func TestShapeAsyncFormDoesNotRouteThroughEval(t *testing.T) {
	out, err := Shape("return 1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "eval(") {
		t.Fatalf("async-wrapped form must not use eval (return/await are illegal at eval's top level), got:\n%s", out)
	}
}

func TestShapeEscapesQuotes(t *testing.T) {
	out, err := Shape(`"hello"`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `\"hello\"`) {
		t.Fatalf("expected escaped quotes in eval string, got:\n%s", out)
	}
}

func TestShapeEscapesNewlinesInExpressionForm(t *testing.T) {
	out, err := Shape("1 +\n1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "1 +\n1") {
		t.Fatalf("expected literal newline to be escaped, got:\n%s", out)
	}
	if !strings.Contains(out, `1 +\n1`) {
		t.Fatalf("expected \\n-escaped source in eval string, got:\n%s", out)
	}
}

func TestShapeAsyncFormPreservesNewlines(t *testing.T) {
	out, err := Shape("let x = 1;\nreturn x", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "let x = 1;\nreturn x") {
		t.Fatalf("expected code inlined with literal newlines preserved, got:\n%s", out)
	}
}
