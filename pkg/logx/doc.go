// Package logx is taskloop's structured logging layer on top of zerolog.
//
// Console output is human readable with a short file:line caller. The
// optional file sink writes JSON lines. Service.Apply swaps levels and sinks
// on config reload without invalidating Loggers handed out earlier.
package logx
