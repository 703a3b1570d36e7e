// Package benchmark provides performance benchmarks for the quiesce hot
// paths: token sealing, slot commits, registry walks, and swap images.
//
// Run benchmarks with:
//
//	go test -bench=. -benchmem ./internal/tests/benchmark/...
//
// The slot benchmarks fsync on every commit; run them on the target
// storage, not tmpfs, for numbers that mean anything.
//
// Compare results:
//
//	benchstat old.txt new.txt
package benchmark
