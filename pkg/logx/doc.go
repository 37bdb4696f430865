// Package logx configures stickerbot's structured logging.
//
// It wraps zerolog behind a small value type (logx.Logger) so that:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON-structured
//   - Warnings and errors can optionally be mirrored to an operator chat
//     (min-level + rate limiting)
package logx
