// Package logx is a thin value-type wrapper over zerolog.
//
// A zero Logger discards everything, so components can take one by value
// without nil checks. Service owns the sinks (console, JSON to stdout, JSON
// file) and swaps them on config reload via Apply; every Logger derived
// from Service.Logger follows the swap.
package logx
