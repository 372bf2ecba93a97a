// Package distance provides the metric engine: pure scoring functions over
// equal-length float32 vectors, selected by a stable string code.
//
// Every metric is defined so that a smaller score means closer, which gives
// top-k selection a single ordering rule regardless of metric.
package distance
