// Package cascade scores fetched samples through three ordered stages.
//
//  1. Noise (NoiseFilter): cheap pixel statistics reject images that look
//     like uniform random noise. No model is involved.
//  2. Semantic (SemanticScorer via Batcher): survivors are compared against
//     a prompt set by the embedding oracle, in batches.
//  3. Significance (SignificanceAggregator): the semantic margin and
//     structural features are combined into the final score.
//
// A failing stage ends the evaluation; later stages never see the sample.
// Stage results are appended to a Verdict in stage order.
//
// # Scores
//
// Every StageResult score lies in [0,1]. Detail carries the named
// sub-scores each stage computed, so a rejected sample can be explained
// from its log line alone.
//
// # Thread Safety
//
// NoiseFilter, SemanticScorer, SignificanceAggregator and Batcher are safe
// for concurrent use once built. A Sample belongs to the worker that
// fetched it.
package cascade
