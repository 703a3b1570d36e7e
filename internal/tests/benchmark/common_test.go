package benchmark

import (
	"fmt"
	"testing"

	"github.com/veridios/quiesce-go/internal/core/domain"
	"github.com/veridios/quiesce-go/pkg/crypto/seal"
)

// benchKey is a fixed 32-byte master key.
var benchKey = []byte("benchmark-key-0123456789abcdef01")

// PayloadSizes covers the sealed record range: a slot record is under
// 128 bytes, a swap page is 4 KiB.
var PayloadSizes = []int{64, 512, 4096}

// SubscriberCounts covers device-scale registries. A handheld runs tens
// of subscribers, not thousands; the top end is headroom.
var SubscriberCounts = []int{4, 16, 64, 256}

func newSealer(b *testing.B, suite seal.Suite) seal.Sealer {
	b.Helper()
	sealer, err := seal.NewWithSuite(benchKey, suite)
	if err != nil {
		b.Fatalf("NewWithSuite(%v) error = %v", suite, err)
	}
	return sealer
}

func newBenchSubscriber(b *testing.B, i int) *domain.Subscriber {
	b.Helper()
	order := domain.Order(i % 3)
	sub, err := domain.NewSubscriber(fmt.Sprintf("net.veridios.bench%04d", i), order, uint32(i))
	if err != nil {
		b.Fatalf("NewSubscriber() error = %v", err)
	}
	return sub
}
