package analysis

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"agent-toolgate/pkg/ruleset"
)

// PythonAnalyzer is the indentation-aware analyzer for Python tool code.
// It builds block structure from indentation and bracket balance rather than
// a full grammar, which is sufficient for the structural checks this gate
// performs: malformed input is reported as syntax errors, never a crash.
type PythonAnalyzer struct {
	rules ruleset.Ruleset
}

func NewPythonAnalyzer() *PythonAnalyzer {
	return &PythonAnalyzer{rules: ruleset.PythonDefault()}
}

func (p *PythonAnalyzer) Name() string { return "python" }

var (
	pyImportRe     = regexp.MustCompile(`^import\s+([A-Za-z_][\w.]*(?:\s*,\s*[A-Za-z_][\w.]*)*)`)
	pyFromImportRe = regexp.MustCompile(`^from\s+([A-Za-z_][\w.]*)\s+import\b`)
	pyDefRe        = regexp.MustCompile(`^def\s+([A-Za-z_]\w*)\s*\(`)
	pyCallRe       = regexp.MustCompile(`([A-Za-z_][\w.]*)\s*\(`)
	pyStrArgRe     = regexp.MustCompile(`^\s*(?:r|b|rb|br)?('([^']*)'|"([^"]*)")`)
)

// compound statement keywords that open an indented block
var pyBlockKeywords = map[string]bool{
	"if": true, "elif": true, "else": true, "for": true, "while": true,
	"def": true, "class": true, "try": true, "except": true,
	"finally": true, "with": true,
}

// keywords that look like call sites to the regex but are not
var pyNotCalls = map[string]bool{
	"return": true, "yield": true, "raise": true, "assert": true,
	"del": true, "not": true, "and": true, "or": true, "in": true,
	"is": true, "lambda": true, "await": true, "print_function": true,
}

// AllowedTempPrefix is the only filesystem prefix tool code may touch.
const AllowedTempPrefix = "/tmp/"

func (p *PythonAnalyzer) Analyze(ctx context.Context, code string) Outcome {
	var out Outcome

	logical, errs := pyLogicalLines(code)
	out.Facts.Lines = strings.Count(code, "\n") + 1
	out.SyntaxErrors = errs

	if len(errs) > 0 {
		// Syntax failure short-circuits security analysis: findings over
		// structurally broken source would be unreliable.
		return out
	}

	indent := []int{0}
	prevOpensBlock := false
	maxDepth := 0
	funcs := make(map[string]bool)
	var calls []Ref

	for _, ln := range logical {
		if ctx.Err() != nil {
			out.Warnings = append(out.Warnings, "analysis cancelled before completion")
			return out
		}

		text := ln.masked

		// Block structure from indentation.
		switch {
		case ln.indent > indent[len(indent)-1]:
			if !prevOpensBlock {
				out.SyntaxErrors = append(out.SyntaxErrors,
					fmt.Sprintf("line %d: unexpected indent", ln.number))
				out.Issues = nil
				return out
			}
			indent = append(indent, ln.indent)
		case ln.indent < indent[len(indent)-1]:
			for len(indent) > 1 && indent[len(indent)-1] > ln.indent {
				indent = indent[:len(indent)-1]
			}
			if indent[len(indent)-1] != ln.indent {
				out.SyntaxErrors = append(out.SyntaxErrors,
					fmt.Sprintf("line %d: unindent does not match any outer indentation level", ln.number))
				out.Issues = nil
				return out
			}
		}
		if d := len(indent) - 1; d > maxDepth {
			maxDepth = d
		}

		keyword := firstWord(text)
		colon := headerColon(text)
		if pyBlockKeywords[keyword] && colon < 0 {
			out.SyntaxErrors = append(out.SyntaxErrors,
				fmt.Sprintf("line %d: missing ':' in %q statement", ln.number, keyword))
			out.Issues = nil
			return out
		}
		// A header whose suite sits on the same line ("if x: return 1")
		// does not open an indented block.
		prevOpensBlock = strings.HasSuffix(text, ":")

		// Imports.
		if m := pyImportRe.FindStringSubmatch(text); m != nil {
			for _, name := range strings.Split(m[1], ",") {
				mod := rootModule(strings.TrimSpace(name))
				out.Facts.Imports = append(out.Facts.Imports, Ref{Name: mod, Line: ln.number, Snippet: snippet(ln.raw)})
				p.flagDeniedModule(&out, mod, ln)
			}
		} else if m := pyFromImportRe.FindStringSubmatch(text); m != nil {
			mod := rootModule(m[1])
			out.Facts.Imports = append(out.Facts.Imports, Ref{Name: mod, Line: ln.number, Snippet: snippet(ln.raw)})
			p.flagDeniedModule(&out, mod, ln)
		}

		// Function definitions.
		if m := pyDefRe.FindStringSubmatch(text); m != nil {
			funcs[m[1]] = true
			out.Facts.Functions = append(out.Facts.Functions, m[1])
		}

		// Branches and loops.
		switch keyword {
		case "if", "elif":
			out.Facts.Branches++
		case "for":
			out.Facts.Loops++
		case "while":
			out.Facts.Loops++
			cond := text[len("while"):colon]
			if c := strings.TrimSpace(cond); c == "True" || c == "1" {
				out.Facts.UsesUnboundedLoop = true
			}
		}

		// Calls. Skip the name being defined on def/class headers.
		for _, m := range pyCallRe.FindAllStringSubmatchIndex(text, -1) {
			name := text[m[2]:m[3]]
			if pyBlockKeywords[name] || pyNotCalls[name] {
				continue
			}
			if fields := strings.Fields(text[:m[2]]); len(fields) > 0 {
				if last := fields[len(fields)-1]; last == "def" || last == "class" {
					continue
				}
			}
			ref := Ref{Name: name, Line: ln.number, Snippet: snippet(ln.raw)}
			calls = append(calls, ref)
			argStart := m[1] // position just past '('
			p.inspectCall(&out, name, ln, argStart)
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

func (p *PythonAnalyzer) flagDeniedModule(out *Outcome, mod string, ln logicalLine) {
	if containsName(p.rules.DeniedModules, mod) {
		out.Issues = append(out.Issues, SecurityIssue{
			Severity:    SeverityCritical,
			Category:    CategoryDeniedImport,
			Line:        ln.number,
			Snippet:     snippet(ln.raw),
			Description: fmt.Sprintf("import of denied module %q", mod),
		})
	}
}

// inspectCall classifies one call site against the baseline ruleset.
func (p *PythonAnalyzer) inspectCall(out *Outcome, name string, ln logicalLine, argStart int) {
	base := baseName(name)

	switch {
	case containsName(p.rules.DynamicExecFunctions, base):
		out.Issues = append(out.Issues, SecurityIssue{
			Severity:    SeverityCritical,
			Category:    CategoryDynamicExec,
			Line:        ln.number,
			Snippet:     snippet(ln.raw),
			Description: fmt.Sprintf("dynamic code execution via %s()", name),
		})

	case containsName(p.rules.SpawnFunctions, base) ||
		strings.HasPrefix(name, "os.") || strings.HasPrefix(name, "subprocess."):
		out.Issues = append(out.Issues, SecurityIssue{
			Severity:    SeverityCritical,
			Category:    CategoryProcessSpawn,
			Line:        ln.number,
			Snippet:     snippet(ln.raw),
			Description: fmt.Sprintf("process or system call via %s()", name),
		})

	case base == "socket" || strings.HasPrefix(name, "socket."):
		out.Issues = append(out.Issues, SecurityIssue{
			Severity:    SeverityHigh,
			Category:    CategoryNetworkAccess,
			Line:        ln.number,
			Snippet:     snippet(ln.raw),
			Description: fmt.Sprintf("raw socket use via %s()", name),
		})

	case base == "open":
		p.inspectOpen(out, ln, argStart)

	case containsName(p.rules.DeniedFunctions, base):
		out.Issues = append(out.Issues, SecurityIssue{
			Severity:    SeverityHigh,
			Category:    CategoryDeniedFunction,
			Line:        ln.number,
			Snippet:     snippet(ln.raw),
			Description: fmt.Sprintf("call to denied function %s()", name),
		})
	}
}

// inspectOpen checks the first argument of an open() call. A literal path
// outside the temp prefix is a definite finding; a non-literal path cannot
// be proven safe, so it is reported at lower severity rather than ignored.
func (p *PythonAnalyzer) inspectOpen(out *Outcome, ln logicalLine, argStart int) {
	if !ln.multiline && ln.lead+argStart <= len(ln.raw) {
		arg := ln.raw[ln.lead+argStart:]
		if m := pyStrArgRe.FindStringSubmatch(arg); m != nil {
			path := m[2]
			if path == "" {
				path = m[3]
			}
			if strings.HasPrefix(path, AllowedTempPrefix) {
				return
			}
			out.Issues = append(out.Issues, SecurityIssue{
				Severity:    SeverityCritical,
				Category:    CategoryFilesystem,
				Line:        ln.number,
				Snippet:     snippet(ln.raw),
				Description: fmt.Sprintf("file access outside %s: %q", AllowedTempPrefix, path),
			})
			return
		}
	}
	out.Issues = append(out.Issues, SecurityIssue{
		Severity:    SeverityMedium,
		Category:    CategoryFilesystem,
		Line:        ln.number,
		Snippet:     snippet(ln.raw),
		Description: "file access with non-literal path (cannot verify temp-path confinement)",
	})
}

// logicalLine is one Python statement after continuation merging, with
// string and comment content masked out for pattern scanning.
type logicalLine struct {
	number    int    // 1-based physical line where the statement starts
	indent    int    // leading spaces (tabs expanded to 8)
	lead      int    // leading whitespace bytes trimmed from masked
	raw       string // original text, continuations joined
	masked    string // strings blanked, comments stripped, trimmed
	multiline bool   // statement spans bracket continuations
}

// pyLogicalLines splits source into logical lines, merging bracket
// continuations, masking string literals, and reporting structural syntax
// errors (unclosed brackets or triple-quoted strings).
func pyLogicalLines(code string) ([]logicalLine, []string) {
	var (
		out      []logicalLine
		errs     []string
		depth    int
		cur      logicalLine
		inTriple bool
		tripleQ  byte
		openLine int
	)

	lines := strings.Split(code, "\n")
	for i, raw := range lines {
		lineno := i + 1

		if inTriple {
			if idx := strings.Index(raw, strings.Repeat(string(tripleQ), 3)); idx >= 0 {
				inTriple = false
				raw = raw[idx+3:]
			} else {
				continue
			}
		}

		masked, nowTriple, q := maskPythonLine(raw)
		if nowTriple {
			inTriple = true
			tripleQ = q
		}

		if depth == 0 {
			if strings.TrimSpace(masked) == "" {
				continue // blank or comment-only
			}
			lead := leadingBytes(raw)
			trimmed := masked
			if lead < len(trimmed) {
				trimmed = trimmed[lead:]
			}
			cur = logicalLine{
				number: lineno,
				indent: leadingIndent(raw),
				lead:   lead,
				raw:    raw,
				masked: strings.TrimRight(trimmed, " \t\r"),
			}
			openLine = lineno
		} else {
			cur.raw += "\n" + raw
			cur.masked += " " + strings.TrimSpace(masked)
			cur.multiline = true
		}

		depth += bracketDelta(masked)
		if depth < 0 {
			errs = append(errs, fmt.Sprintf("line %d: unmatched closing bracket", lineno))
			depth = 0
		}

		if depth == 0 {
			out = append(out, cur)
		}
	}

	if depth > 0 {
		errs = append(errs, fmt.Sprintf("line %d: unclosed bracket at end of input", openLine))
	}
	if inTriple {
		errs = append(errs, "unterminated triple-quoted string")
	}

	return out, errs
}

// maskPythonLine blanks string literal contents and strips comments so that
// pattern matching never fires inside strings. Returns whether the line
// opens a triple-quoted string.
func maskPythonLine(line string) (masked string, opensTriple bool, quote byte) {
	var b strings.Builder
	b.Grow(len(line))

	for i := 0; i < len(line); i++ {
		c := line[i]

		if c == '\'' || c == '"' {
			if i+2 < len(line) && line[i+1] == c && line[i+2] == c {
				rest := line[i+3:]
				if idx := strings.Index(rest, strings.Repeat(string(c), 3)); idx >= 0 {
					b.WriteString(`""`)
					i += 3 + idx + 2
					continue
				}
				return b.String(), true, c
			}
			// single-quoted string: scan to closing quote honoring escapes
			j := i + 1
			for j < len(line) {
				if line[j] == '\\' {
					j += 2
					continue
				}
				if line[j] == c {
					break
				}
				j++
			}
			b.WriteByte(c)
			for k := i + 1; k < j && k < len(line); k++ {
				b.WriteByte(' ')
			}
			if j < len(line) {
				b.WriteByte(c)
			}
			i = j
			continue
		}

		if c == '#' {
			break // rest of line is a comment
		}
		b.WriteByte(c)
	}

	return b.String(), false, 0
}

func bracketDelta(masked string) int {
	delta := 0
	for i := 0; i < len(masked); i++ {
		switch masked[i] {
		case '(', '[', '{':
			delta++
		case ')', ']', '}':
			delta--
		}
	}
	return delta
}

func leadingBytes(line string) int {
	for i := 0; i < len(line); i++ {
		if line[i] != ' ' && line[i] != '\t' {
			return i
		}
	}
	return len(line)
}

func leadingIndent(line string) int {
	n := 0
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case ' ':
			n++
		case '\t':
			n += 8
		default:
			return n
		}
	}
	return n
}

// headerColon returns the index of the first ':' at bracket depth 0, or -1.
// Compound-statement headers may carry their suite inline ("if x: return 1"),
// so the colon is not necessarily line-final; colons inside parentheses,
// subscripts, or dict literals do not terminate a header.
func headerColon(s string) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ':':
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func firstWord(s string) string {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return s[:i]
		}
	}
	return s
}

func rootModule(name string) string {
	if idx := strings.IndexByte(name, '.'); idx >= 0 {
		return name[:idx]
	}
	return name
}

func baseName(name string) string {
	if idx := strings.LastIndexByte(name, '.'); idx >= 0 {
		return name[idx+1:]
	}
	return name
}

func containsName(list []string, name string) bool {
	for _, v := range list {
		if v == name {
			return true
		}
	}
	return false
}
