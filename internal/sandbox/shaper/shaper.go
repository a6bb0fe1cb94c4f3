// Package shaper transforms raw guest code and the request's msg object
// into the final script text handed to the Isolate Runner: it sanitizes
// known-bloated msg paths, synthesizes the toString/strict-mode prelude,
// and decides between the async-IIFE and eval-expression wrap forms.
package shaper

import (
	"encoding/json"
	"strings"
)

// sanitizePaths are removed from msg before it is embedded in the
// guest's prelude. These are known large fields that bloat the guest
// environment without being useful to evaluated snippets.
var sanitizePaths = [][]string{
	{"channel", "data", "command_stats"},
	{"channel", "commands"},
	{"command", "description"},
	{"channel", "blocks"},
}

// Sanitize returns a copy of msg with sanitizePaths removed. msg is not
// mutated.
func Sanitize(msg map[string]interface{}) map[string]interface{} {
	clone := deepCopyMap(msg)
	for _, path := range sanitizePaths {
		deletePath(clone, path)
	}
	return clone
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return t
	}
}

func deletePath(m map[string]interface{}, path []string) {
	if len(path) == 0 {
		return
	}
	if len(path) == 1 {
		delete(m, path[0])
		return
	}
	next, ok := m[path[0]].(map[string]interface{})
	if !ok {
		return
	}
	deletePath(next, path[1:])
}

// prelude is the fixed preamble evaluated before user code. toString
// resolves: string as-is; Error -> "<Name>: <message>"; Promise -> await
// then recurse; Array -> elementwise recursion joined by ", "; otherwise
// JSON.stringify.
const prelude = `"use strict";
function toString(value) {
  if (typeof value === "string") return value;
  if (value instanceof Error) return value.name + ": " + value.message;
  if (value && typeof value.then === "function") {
    return value.then(function(v) { return toString(v); });
  }
  if (Array.isArray(value)) return value.map(toString).join(", ");
  return JSON.stringify(value);
}
`

// Shape produces the final script text to evaluate given the raw code
// and the msg object. msg is sanitized and embedded as a
// double-JSON-stringified literal so the guest can never observe a live
// host reference.
func Shape(code string, msg map[string]interface{}) (string, error) {
	sanitized := Sanitize(msg)
	raw, err := json.Marshal(sanitized)
	if err != nil {
		return "", err
	}
	// Double-encode: the JS string literal "<json-of-json-string>" yields
	// the original JSON text as a string at guest startup, which JSON.parse
	// turns into a live, guest-owned object graph with no shared
	// references back to the host's map.
	doubleEncoded, err := json.Marshal(string(raw))
	if err != nil {
		return "", err
	}

	var body strings.Builder
	body.WriteString(prelude)
	body.WriteString("var msg = JSON.parse(")
	body.Write(doubleEncoded)
	body.WriteString(");\n")
	body.WriteString("var global = this;\n")
	body.WriteString(wrap(code))

	return body.String(), nil
}

// IsAsyncShape reports whether code contains the substring return or
// await, on the unparsed source. This is a naive, non-token-aware test,
// preserved deliberately: it misclassifies return/await occurring inside
// string literals or comments, but that ergonomic heuristic is the
// documented behavior, not a bug to fix.
func IsAsyncShape(code string) bool {
	return strings.Contains(code, "return") || strings.Contains(code, "await")
}

func wrap(code string) string {
	if IsAsyncShape(code) {
		// code is inlined directly into the function body, per spec:
		// return/await are illegal at the top level of eval'd source
		// (eval parses its argument as a Script, not as a function body),
		// so routing it through eval would throw a SyntaxError on both
		// "return ..." and "await ..." snippets. Code that already
		// contains an explicit "return" is inlined as-is. Code that only
		// contains "await" is a bare trailing expression with no
		// explicit return, so it is prefixed with "return " to capture
		// its value as the async function's result.
		body := code
		if !strings.Contains(code, "return") {
			body = "return " + code
		}
		return "toString((async function evaluate() {\n" + body + "\n})());\n"
	}
	escaped := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		`'`, `\'`,
		"\n", `\n`,
		"\r", `\r`,
	).Replace(code)
	return "toString(eval('" + escaped + "'));\n"
}
