// Package logging builds the zap loggers used across cmsauth and provides typed
// field helpers so every component logs the same keys.
//
// Components accept a *zap.Logger; a nil logger is replaced by [Nop] through
// [OrNop], so no call site has to guard against nil.
package logging
