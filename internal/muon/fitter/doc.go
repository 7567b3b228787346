// Package fitter turns hit lists into fitted tracks.
//
// The pipeline for one fit attempt is: corrupt-entry check, measurement
// extraction, azimuthal bracket, start parameters, fake phi hits for
// under-constrained fits, least-squares fit (optionally with a broad-error
// prefit), then outlier cleaning and quality gates. Every expected failure
// is reported as a nil track plus a Failure reason; nothing here returns
// an error from the hot path.
//
// The least-squares routine, momentum estimator, phi-hit selector and
// outlier cleaner are injected services. LeastSquaresFit, DeflectionEstimator,
// WindowPhiSelector and PullCleaner are the reference implementations.
package fitter
