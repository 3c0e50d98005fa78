// Package logx configures xsnotifier's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - A log-event stream (eventbus) that display surfaces can attach to
package logx
