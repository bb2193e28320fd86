package tests

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"agent-toolgate/internal/analysis"
	"agent-toolgate/internal/cache"
	"agent-toolgate/internal/monitor"
	"agent-toolgate/internal/policy"
	"agent-toolgate/internal/storage"
	"agent-toolgate/internal/validator"
)

func newBenchValidator(b *testing.B) *validator.Validator {
	b.Helper()
	return validator.New(
		analysis.NewRegistry(),
		policy.NewStaticSource(policy.Default()),
		cache.New(cache.NewMemoryStore(), zerolog.Nop()),
		storage.NopSink{},
		monitor.NewMetrics(),
		monitor.NewTracer(),
		zerolog.Nop(),
		validator.DefaultOptions(),
	)
}

// BenchmarkValidateCold measures the full analyze-and-evaluate path; every
// iteration submits distinct code so the cache never hits.
func BenchmarkValidateCold(b *testing.B) {
	v := newBenchValidator(b)
	ctx := context.Background()

	languages := []struct {
		name string
		code string
	}{
		{"python", "def f_%d(x):\n    return x + %d\n"},
		{"javascript", "function f%d(x) {\n  return x + %d;\n}\n"},
	}

	for _, lang := range languages {
		b.Run(lang.name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				code := fmt.Sprintf(lang.code, i, i)
				if _, err := v.Validate(ctx, code, lang.name); err != nil {
					b.Fatalf("validation failed: %v", err)
				}
			}
		})
	}
}

// BenchmarkValidateCached measures the hot path: identical code served from
// the artifact cache.
func BenchmarkValidateCached(b *testing.B) {
	v := newBenchValidator(b)
	ctx := context.Background()
	code := "def add(a, b):\n    return a + b\n"

	if _, err := v.Validate(ctx, code, "python"); err != nil {
		b.Fatalf("warmup failed: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := v.Validate(ctx, code, "python"); err != nil {
			b.Fatalf("validation failed: %v", err)
		}
	}
}

func BenchmarkValidateCachedParallel(b *testing.B) {
	v := newBenchValidator(b)
	ctx := context.Background()
	code := "def mul(a, b):\n    return a * b\n"

	if _, err := v.Validate(ctx, code, "python"); err != nil {
		b.Fatalf("warmup failed: %v", err)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := v.Validate(ctx, code, "python"); err != nil {
				b.Errorf("validation failed: %v", err)
			}
		}
	})
}
