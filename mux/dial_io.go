package mux

import (
	"io"
	"os"
)

// DialIO establishes a mux connection using a WriteCloser and ReadCloser.
func DialIO(out io.WriteCloser, in io.ReadCloser, cfg Config) (*Conn, error) {
	cfg.Dialer = true
	return New(&ioduplex{out, in}, cfg), nil
}

// DialStdio establishes a mux connection using Stdout and Stdin.
func DialStdio(cfg Config) (*Conn, error) {
	return DialIO(os.Stdout, os.Stdin, cfg)
}
