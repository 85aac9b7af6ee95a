// Package frame implements the gateway wire codec.
//
// Every gateway message is a JSON document of the form
//
//	{"s": <kind>, "sn": <sequence>, "d": {...}}
//
// Text messages are plain JSON. Binary messages are zlib (or raw DEFLATE)
// compressed and are inflated before parsing.
package frame
