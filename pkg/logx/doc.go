// Package logx configures lcdaily's structured logging.
//
// Components log through a small wrapper (logx.Logger) on top of zerolog:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional Discord log channel sink (min-level + rate limiting)
package logx
