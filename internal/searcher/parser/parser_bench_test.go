package parser

import "testing"

// BenchmarkParse measures tokenizing and classifying queries of varying
// complexity.
func BenchmarkParse(b *testing.B) {
	queries := []struct {
		name  string
		query string
	}{
		{"simple", "deploy runbook"},
		{"phrase", `"rolling restart" kubernetes`},
		{"tags", "tag:ops -tag:draft incident"},
		{"prefixes", "prefix:/runbooks/ -prefix:/user/ restart"},
		{"mixed", `deploy "blue green" -legacy prefix:/ops/ tag:k8s -tag:archived`},
		{"long", "search index alias rebuild bulk pipeline bookmark boost visibility grant group owner"},
	}

	for _, q := range queries {
		b.Run(q.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				pq := Parse(q.query)
				_ = pq
			}
		})
	}
}

func BenchmarkCacheKey(b *testing.B) {
	pq := Parse(`deploy "blue green" -legacy prefix:/ops/ tag:k8s -tag:archived`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = pq.CacheKey()
	}
}
