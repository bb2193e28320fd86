package analysis

import (
	"context"
	"strings"
	"testing"
)

func TestJavaScriptAnalyze_DeniedRequire(t *testing.T) {
	a := NewJavaScriptAnalyzer()
	out := a.Analyze(context.Background(), `const cp = require("child_process");`)

	if len(out.SyntaxErrors) != 0 {
		t.Fatalf("SyntaxErrors = %v, want none", out.SyntaxErrors)
	}
	if !hasIssue(out.Issues, CategoryDeniedImport, 1) {
		t.Errorf("missing denied_import issue: %+v", out.Issues)
	}
	if !out.BestEffort {
		t.Error("BestEffort = false, want true for the pattern-based analyzer")
	}
}

func TestJavaScriptAnalyze_DeniedESImport(t *testing.T) {
	a := NewJavaScriptAnalyzer()
	out := a.Analyze(context.Background(), `import fs from "fs";`)

	if !hasIssue(out.Issues, CategoryDeniedImport, 1) {
		t.Errorf("missing denied_import issue: %+v", out.Issues)
	}
}

func TestJavaScriptAnalyze_Findings(t *testing.T) {
	a := NewJavaScriptAnalyzer()

	tests := []struct {
		name     string
		code     string
		category string
	}{
		{"eval", `eval("1+1")`, CategoryDynamicExec},
		{"function constructor", `const f = Function("return 1")`, CategoryDynamicExec},
		{"timer with string", `setTimeout("doWork()", 100)`, CategoryDynamicExec},
		{"fetch", `fetch("https://example.com")`, CategoryNetworkAccess},
		{"websocket", `const ws = new WebSocket(url)`, CategoryNetworkAccess},
		{"proto pollution", `obj.__proto__.admin = true`, CategoryPatternRisk},
		{"fs outside tmp", `fs.readFileSync("/etc/passwd")`, CategoryFilesystem},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := a.Analyze(context.Background(), tt.code)
			if len(out.SyntaxErrors) != 0 {
				t.Fatalf("unexpected syntax errors: %v", out.SyntaxErrors)
			}
			if !hasIssue(out.Issues, tt.category, 0) {
				t.Errorf("missing %s issue: %+v", tt.category, out.Issues)
			}
		})
	}
}

func TestJavaScriptAnalyze_FsInsideTempAllowed(t *testing.T) {
	a := NewJavaScriptAnalyzer()
	out := a.Analyze(context.Background(), `fs.writeFileSync("/tmp/out.json", data)`)

	if hasIssue(out.Issues, CategoryFilesystem, 0) {
		t.Errorf("Issues = %+v, want no filesystem issue for temp path", out.Issues)
	}
}

func TestJavaScriptAnalyze_SyntaxErrors(t *testing.T) {
	a := NewJavaScriptAnalyzer()

	tests := []struct {
		name    string
		code    string
		wantErr string
	}{
		{"unbalanced braces", "function f() {\n  return 1;\n", "unbalanced braces"},
		{"unbalanced parens", "f(1, 2;", "unbalanced parentheses"},
		{"unbalanced brackets", "const a = [1, 2;", "unbalanced brackets"},
		{"unterminated string", `const s = "abc`, "unterminated string"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := a.Analyze(context.Background(), tt.code)
			found := false
			for _, e := range out.SyntaxErrors {
				if strings.Contains(e, tt.wantErr) {
					found = true
				}
			}
			if !found {
				t.Errorf("SyntaxErrors = %v, want one containing %q", out.SyntaxErrors, tt.wantErr)
			}
			if len(out.Issues) != 0 {
				t.Errorf("Issues = %+v, want none after syntax failure", out.Issues)
			}
		})
	}
}

func TestJavaScriptAnalyze_IgnoresStringsAndComments(t *testing.T) {
	a := NewJavaScriptAnalyzer()
	code := strings.Join([]string{
		`const s = "eval(x)";`,
		`// require("child_process")`,
		`/* fetch("http://x") */`,
	}, "\n")

	out := a.Analyze(context.Background(), code)
	if len(out.Issues) != 0 {
		t.Errorf("Issues = %+v, want none for patterns inside strings/comments", out.Issues)
	}
}

func TestJavaScriptAnalyze_Recursion(t *testing.T) {
	a := NewJavaScriptAnalyzer()
	code := "function fib(n) {\n  if (n < 2) { return n; }\n  return fib(n - 1) + fib(n - 2);\n}"
	out := a.Analyze(context.Background(), code)

	if len(out.SyntaxErrors) != 0 {
		t.Fatalf("SyntaxErrors = %v", out.SyntaxErrors)
	}
	if !out.Facts.UsesRecursion {
		t.Error("UsesRecursion = false, want true")
	}
	if out.Facts.Branches == 0 {
		t.Error("Branches = 0, want > 0")
	}
}

func TestJavaScriptAnalyze_UnboundedLoop(t *testing.T) {
	a := NewJavaScriptAnalyzer()

	for _, code := range []string{"while (true) { work(); }", "for (;;) { work(); }"} {
		out := a.Analyze(context.Background(), code)
		if !out.Facts.UsesUnboundedLoop {
			t.Errorf("UsesUnboundedLoop = false for %q", code)
		}
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	for _, lang := range []string{"python", "javascript", "typescript"} {
		if _, err := r.Get(lang); err != nil {
			t.Errorf("Get(%q) = %v, want analyzer", lang, err)
		}
	}

	if _, err := r.Get("cobol"); err == nil {
		t.Error("Get(cobol) = nil error, want unsupported language error")
	}
}
