// Package logx is the agent's logging front end over zerolog.
//
// A Logger is a cheap value: derive component loggers with With and pass them
// down. Loggers obtained from a Service follow every Service.Apply, so a level
// or sink change from a config reload reaches code that captured its logger
// at startup. The zero Logger discards everything.
package logx
