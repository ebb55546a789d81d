// Package logx configures rat's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller) on a terminal
//   - JSON lines everywhere else (pipes, journald, log files)
//   - Runtime level/sink changes (Service.Apply) without re-plumbing loggers
//
// Logs always go to stderr; stdout belongs to command output (list, log).
package logx
