package analysis

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"agent-toolgate/pkg/ruleset"
)

// JavaScriptAnalyzer covers JavaScript and TypeScript tool code. It is
// pattern-based rather than a full grammar parser, so every outcome is
// marked BestEffort: findings are reliable, but parsing fidelity is lower
// than the Python analyzer. When the scanner cannot decide, it emits a
// warning instead of silently passing.
type JavaScriptAnalyzer struct {
	rules ruleset.Ruleset
}

func NewJavaScriptAnalyzer() *JavaScriptAnalyzer {
	return &JavaScriptAnalyzer{rules: ruleset.JavaScriptDefault()}
}

func (j *JavaScriptAnalyzer) Name() string { return "javascript" }

var (
	jsRequireRe   = regexp.MustCompile(`require\s*\(\s*['"]([^'"]+)['"]\s*\)`)
	jsImportRe    = regexp.MustCompile(`import\s+(?:[\w{}*,\s]+\s+from\s+)?['"]([^'"]+)['"]`)
	jsDynImportRe = regexp.MustCompile(`import\s*\(`)
	jsFuncRe      = regexp.MustCompile(`function\s+(\w+)\s*\(`)
	jsArrowRe     = regexp.MustCompile(`(?:const|let|var)\s+(\w+)\s*=\s*(?:async\s*)?\([^)]*\)\s*=>`)
	jsCallRe      = regexp.MustCompile(`([A-Za-z_$][\w$.]*)\s*\(`)
	jsLoopRe      = regexp.MustCompile(`\b(for|while|do)\b`)
	jsBranchRe    = regexp.MustCompile(`\b(if|else\s+if|case)\b`)
	jsForeverRe   = regexp.MustCompile(`while\s*\(\s*(true|1)\s*\)|for\s*\(\s*;\s*;\s*\)`)
	jsFsPathRe    = regexp.MustCompile(`fs\.\w+\s*\(\s*['"]([^'"]+)['"]`)
	jsTimerStrRe  = regexp.MustCompile(`set(?:Timeout|Interval)\s*\([^,)]*['"]`)
)

var jsKeywordCalls = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "catch": true,
	"return": true, "function": true, "typeof": true, "new": true,
	"do": true, "await": true, "async": true, "constructor": true,
}

func (j *JavaScriptAnalyzer) Analyze(ctx context.Context, code string) Outcome {
	out := Outcome{BestEffort: true}

	lines := strings.Split(code, "\n")
	out.Facts.Lines = len(lines)

	masked, syntaxErrs, warnings := jsScan(lines)
	out.SyntaxErrors = syntaxErrs
	out.Warnings = warnings

	if len(syntaxErrs) > 0 {
		return out
	}

	funcs := make(map[string]bool)
	var calls []Ref
	depth, maxDepth := 0, 0

	for i, line := range masked {
		if ctx.Err() != nil {
			out.Warnings = append(out.Warnings, "analysis cancelled before completion")
			return out
		}
		lineno := i + 1
		raw := lines[i]

		// Imports and requires. The scanner blanks string contents in the
		// masked line, so module names are read back from the raw line via
		// the byte-aligned match offsets.
		for _, idx := range jsRequireRe.FindAllStringSubmatchIndex(line, -1) {
			j.recordImport(&out, rawSlice(raw, idx[2], idx[3]), lineno, raw)
		}
		for _, idx := range jsImportRe.FindAllStringSubmatchIndex(line, -1) {
			j.recordImport(&out, rawSlice(raw, idx[2], idx[3]), lineno, raw)
		}
		if jsDynImportRe.MatchString(line) {
			out.Issues = append(out.Issues, SecurityIssue{
				Severity:    SeverityCritical,
				Category:    CategoryDynamicExec,
				Line:        lineno,
				Snippet:     snippet(raw),
				Description: "dynamic import() expression",
			})
		}

		// Function definitions.
		for _, m := range jsFuncRe.FindAllStringSubmatch(line, -1) {
			funcs[m[1]] = true
			out.Facts.Functions = append(out.Facts.Functions, m[1])
		}
		for _, m := range jsArrowRe.FindAllStringSubmatch(line, -1) {
			funcs[m[1]] = true
			out.Facts.Functions = append(out.Facts.Functions, m[1])
		}

		// Branches and loops.
		out.Facts.Branches += len(jsBranchRe.FindAllString(line, -1))
		out.Facts.Loops += len(jsLoopRe.FindAllString(line, -1))
		if jsForeverRe.MatchString(line) {
			out.Facts.UsesUnboundedLoop = true
		}

		// Call sites. A function's own definition line matches the call
		// pattern too, so anything directly preceded by the function keyword
		// is skipped.
		for _, idx := range jsCallRe.FindAllStringSubmatchIndex(line, -1) {
			name := line[idx[2]:idx[3]]
			if jsKeywordCalls[baseName(name)] || name == "import" {
				continue
			}
			if before := strings.Fields(line[:idx[2]]); len(before) > 0 && before[len(before)-1] == "function" {
				continue
			}
			calls = append(calls, Ref{Name: name, Line: lineno, Snippet: snippet(raw)})
			j.inspectCall(&out, name, lineno, raw)
		}

		// Known dangerous textual patterns.
		if jsTimerStrRe.MatchString(line) {
			out.Issues = append(out.Issues, SecurityIssue{
				Severity:    SeverityCritical,
				Category:    CategoryDynamicExec,
				Line:        lineno,
				Snippet:     snippet(raw),
				Description: "timer with string body (implicit eval)",
			})
		}
		if strings.Contains(line, "__proto__") {
			out.Issues = append(out.Issues, SecurityIssue{
				Severity:    SeverityHigh,
				Category:    CategoryPatternRisk,
				Line:        lineno,
				Snippet:     snippet(raw),
				Description: "prototype pollution risk (__proto__ access)",
			})
		}

		// Filesystem path confinement.
		for _, idx := range jsFsPathRe.FindAllStringSubmatchIndex(line, -1) {
			path := rawSlice(raw, idx[2], idx[3])
			if !strings.HasPrefix(path, AllowedTempPrefix) {
				out.Issues = append(out.Issues, SecurityIssue{
					Severity:    SeverityCritical,
					Category:    CategoryFilesystem,
					Line:        lineno,
					Snippet:     snippet(raw),
					Description: fmt.Sprintf("file access outside %s: %q", AllowedTempPrefix, path),
				})
			}
		}

		// Nesting from brace depth.
		for _, c := range line {
			switch c {
			case '{':
				depth++
				if depth > maxDepth {
					maxDepth = depth
				}
			case '}':
				depth--
			}
		}
	}

	out.Facts.Calls = calls
	out.Facts.MaxNestingDepth = maxDepth

	for _, c := range calls {
		if funcs[baseName(c.Name)] {
			out.Facts.UsesRecursion = true
			break
		}
	}

	return out
}

func (j *JavaScriptAnalyzer) recordImport(out *Outcome, module string, lineno int, raw string) {
	out.Facts.Imports = append(out.Facts.Imports, Ref{Name: module, Line: lineno, Snippet: snippet(raw)})
	if containsName(j.rules.DeniedModules, module) || containsName(j.rules.DeniedModules, rootModule(module)) {
		out.Issues = append(out.Issues, SecurityIssue{
			Severity:    SeverityCritical,
			Category:    CategoryDeniedImport,
			Line:        lineno,
			Snippet:     snippet(raw),
			Description: fmt.Sprintf("import of denied module %q", module),
		})
	}
}

func (j *JavaScriptAnalyzer) inspectCall(out *Outcome, name string, lineno int, raw string) {
	base := baseName(name)

	switch {
	case containsName(j.rules.DynamicExecFunctions, base):
		out.Issues = append(out.Issues, SecurityIssue{
			Severity:    SeverityCritical,
			Category:    CategoryDynamicExec,
			Line:        lineno,
			Snippet:     snippet(raw),
			Description: fmt.Sprintf("dynamic code execution via %s()", name),
		})

	case containsName(j.rules.SpawnFunctions, base) || strings.HasPrefix(name, "child_process."):
		out.Issues = append(out.Issues, SecurityIssue{
			Severity:    SeverityCritical,
			Category:    CategoryProcessSpawn,
			Line:        lineno,
			Snippet:     snippet(raw),
			Description: fmt.Sprintf("process spawn via %s()", name),
		})

	case base == "fetch" || base == "XMLHttpRequest" || base == "WebSocket" ||
		strings.HasPrefix(name, "net.") || strings.HasPrefix(name, "http.") || strings.HasPrefix(name, "https."):
		out.Issues = append(out.Issues, SecurityIssue{
			Severity:    SeverityHigh,
			Category:    CategoryNetworkAccess,
			Line:        lineno,
			Snippet:     snippet(raw),
			Description: fmt.Sprintf("network access via %s()", name),
		})

	case containsName(j.rules.DeniedFunctions, base):
		out.Issues = append(out.Issues, SecurityIssue{
			Severity:    SeverityHigh,
			Category:    CategoryDeniedFunction,
			Line:        lineno,
			Snippet:     snippet(raw),
			Description: fmt.Sprintf("call to denied function %s()", name),
		})
	}
}

// rawSlice reads a match range found on a masked line back out of the raw
// line. Masked lines are byte-aligned with their raw counterparts up to any
// trailing line comment.
func rawSlice(raw string, start, end int) string {
	if start < 0 || end > len(raw) || start > end {
		return ""
	}
	return raw[start:end]
}

// jsScan walks the source once, masking string and comment contents and
// checking bracket balance. It returns the masked lines (same count and
// byte-aligned with the input) plus any structural syntax errors.
func jsScan(lines []string) (masked []string, errs []string, warnings []string) {
	var (
		braces, parens, brackets int
		inBlockComment           bool
		inTemplate               bool
	)

	masked = make([]string, len(lines))

	for i, line := range lines {
		var b strings.Builder
		b.Grow(len(line))

		inString := false
		var stringChar byte

		for k := 0; k < len(line); k++ {
			c := line[k]

			if inBlockComment {
				if c == '*' && k+1 < len(line) && line[k+1] == '/' {
					inBlockComment = false
					k++
					b.WriteString("  ")
					continue
				}
				b.WriteByte(' ')
				continue
			}

			if inTemplate {
				if c == '`' {
					inTemplate = false
					b.WriteByte('`')
					continue
				}
				b.WriteByte(' ')
				continue
			}

			if inString {
				if c == '\\' {
					b.WriteString("  ")
					k++
					continue
				}
				if c == stringChar {
					inString = false
					b.WriteByte(c)
					continue
				}
				b.WriteByte(' ')
				continue
			}

			switch c {
			case '/':
				if k+1 < len(line) {
					if line[k+1] == '/' {
						k = len(line) // line comment
						continue
					}
					if line[k+1] == '*' {
						inBlockComment = true
						b.WriteString("  ")
						k++
						continue
					}
				}
				b.WriteByte(c)
			case '"', '\'':
				inString = true
				stringChar = c
				b.WriteByte(c)
			case '`':
				inTemplate = true
				b.WriteByte(c)
			case '{':
				braces++
				b.WriteByte(c)
			case '}':
				braces--
				b.WriteByte(c)
			case '(':
				parens++
				b.WriteByte(c)
			case ')':
				parens--
				b.WriteByte(c)
			case '[':
				brackets++
				b.WriteByte(c)
			case ']':
				brackets--
				b.WriteByte(c)
			default:
				b.WriteByte(c)
			}
		}

		if inString {
			// Unterminated quote: JS has no line continuation for plain
			// strings, so this is structurally broken.
			errs = append(errs, fmt.Sprintf("line %d: unterminated string literal", i+1))
			inString = false
		}

		masked[i] = b.String()
	}

	if braces != 0 {
		errs = append(errs, fmt.Sprintf("unbalanced braces: %+d unclosed", braces))
	}
	if parens != 0 {
		errs = append(errs, fmt.Sprintf("unbalanced parentheses: %+d unclosed", parens))
	}
	if brackets != 0 {
		errs = append(errs, fmt.Sprintf("unbalanced brackets: %+d unclosed", brackets))
	}
	if inBlockComment {
		warnings = append(warnings, "unterminated block comment (best-effort scan)")
	}
	if inTemplate {
		warnings = append(warnings, "unterminated template literal (best-effort scan)")
	}

	return masked, errs, warnings
}
