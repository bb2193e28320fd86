// Package ruleset provides the default per-language denylists used to build
// security policies. These are the baseline profiles; callers can extend or
// replace them through policy configuration.
package ruleset

// Ruleset groups the denylisted identifiers for one language family.
type Ruleset struct {
	// DeniedModules are module/package names whose import is rejected.
	DeniedModules []string

	// DeniedFunctions are callable names whose invocation is rejected.
	DeniedFunctions []string

	// SpawnFunctions are process-spawning or raw-socket primitives.
	SpawnFunctions []string

	// DynamicExecFunctions are eval-equivalents and dynamic compile/import
	// primitives, tracked separately from plain denied functions.
	DynamicExecFunctions []string
}

// PythonDefault returns the baseline denylist for Python tool code.
func PythonDefault() Ruleset {
	return Ruleset{
		DeniedModules: []string{
			"os", "subprocess", "socket", "urllib", "urllib2", "urllib3",
			"requests", "http", "httplib", "ftplib", "telnetlib",
			"smtplib", "poplib", "imaplib", "importlib",
			"sys", "ctypes", "multiprocessing", "threading", "asyncio",
		},
		DeniedFunctions: []string{
			"open", "input",
		},
		SpawnFunctions: []string{
			"system", "popen", "spawn", "fork", "execv", "execve",
		},
		DynamicExecFunctions: []string{
			"eval", "exec", "compile", "__import__",
		},
	}
}

// JavaScriptDefault returns the baseline denylist for JavaScript and
// TypeScript tool code (Node module names).
func JavaScriptDefault() Ruleset {
	return Ruleset{
		DeniedModules: []string{
			"fs", "child_process", "net", "http", "https", "dgram",
			"dns", "tls", "os", "process", "cluster",
			"worker_threads", "vm",
		},
		DeniedFunctions: []string{
			"XMLHttpRequest", "fetch", "WebSocket",
		},
		SpawnFunctions: []string{
			"spawn", "exec", "execSync", "spawnSync", "fork",
		},
		DynamicExecFunctions: []string{
			"eval", "Function",
		},
	}
}

// ForLanguage returns the ruleset for a language tag. TypeScript shares the
// JavaScript denylists.
func ForLanguage(language string) Ruleset {
	switch language {
	case "javascript", "typescript":
		return JavaScriptDefault()
	default:
		return PythonDefault()
	}
}

// Merged returns the union of all default denylists across languages. The
// default security policy denies a module or function regardless of which
// language family it belongs to.
func Merged() Ruleset {
	py := PythonDefault()
	js := JavaScriptDefault()
	return Ruleset{
		DeniedModules:        dedupe(py.DeniedModules, js.DeniedModules),
		DeniedFunctions:      dedupe(py.DeniedFunctions, js.DeniedFunctions),
		SpawnFunctions:       dedupe(py.SpawnFunctions, js.SpawnFunctions),
		DynamicExecFunctions: dedupe(py.DynamicExecFunctions, js.DynamicExecFunctions),
	}
}

func dedupe(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
