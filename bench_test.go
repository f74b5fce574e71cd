package cmsauth

import (
	"context"
	"testing"
)

func BenchmarkVerify(b *testing.B) {
	f := newFixture(b, func(c *Config) { c.Audit.Enabled = false })
	resp := f.register(b, "bench")
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := f.svc.Verify(ctx, resp.Tokens.AccessToken.Token); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRefresh(b *testing.B) {
	f := newFixture(b, func(c *Config) { c.Audit.Enabled = false })
	refresh := f.register(b, "bench").Tokens.RefreshToken.Token
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resp, err := f.svc.Refresh(ctx, refresh)
		if err != nil {
			b.Fatal(err)
		}
		refresh = resp.Tokens.RefreshToken.Token
	}
}
