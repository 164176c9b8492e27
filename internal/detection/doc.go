// Package detection finds text-like structure in an edge mask.
//
// Printed or written text shows up in an edge mask as bands of medium edge
// density whose edge runs are predominantly horizontal. Noise fills the mask
// almost completely, and flat images leave it empty, so neither looks like
// text under this heuristic.
//
// # Algorithm Overview
//
//  1. Slide windows of several text-line sizes over the mask at half-window
//     steps.
//  2. Keep windows whose edge density lies between 0.05 and 0.4.
//  3. Score each kept window by how horizontal its edge runs are, damped by
//     the distance of its density from 0.2.
//  4. Merge overlapping windows into regions and sort by confidence.
//
// # Coordinate System
//
// Masks are row-major ([y][x]) with the origin at the top-left corner.
// Bounds use an inclusive top-left and exclusive bottom-right corner.
//
// # Confidence Scores
//
// Confidences lie in [0, 1]. They are heuristics, not probabilities: an
// OCR engine, when available, gives a better text signal.
package detection
