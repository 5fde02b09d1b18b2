package metrics

import "testing"

// BenchmarkCollector_FrameSent measures the per-frame accounting cost on
// the relay's outbound hot path.
func BenchmarkCollector_FrameSent(b *testing.B) {
	c := New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.FrameSent(512)
	}
}

// BenchmarkCollector_Snapshot measures the cost of serving /healthz.
func BenchmarkCollector_Snapshot(b *testing.B) {
	c := New()
	c.ConnectionOpened()
	c.FrameSent(1024)
	c.RecordError("test")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Snapshot()
	}
}
