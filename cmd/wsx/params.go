package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

type envFiles []string

func (f *envFiles) String() string {
	return strings.Join(*f, ",")
}

func (f *envFiles) Set(value string) error {
	*f = append(*f, value)
	return nil
}

type sendParams struct {
	endpoint string
	message  string
	count    int
	timeout  time.Duration
	strict   bool
	envFiles envFiles
	debug    bool
}

func (p *sendParams) Read(args []string) bool {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	fs.StringVar(&p.endpoint, "endpoint", "", "WebSocket URL (overrides WSX_ENDPOINT)")
	fs.StringVar(&p.message, "message", "", "request as JSON")
	fs.IntVar(&p.count, "count", 1, "number of responses to wait for")
	fs.DurationVar(&p.timeout, "timeout", 0, "response timeout (default WSX_RESPONSE_TIMEOUT or 10s)")
	fs.BoolVar(&p.strict, "strict", false, "require exactly -count responses")
	fs.Var(&p.envFiles, "env", ".env file to load, may be repeated")
	fs.BoolVar(&p.debug, "debug", false, "enable debug logging and print the exchange report")

	if err := fs.Parse(args); err != nil {
		return false
	}
	if p.message == "" {
		fmt.Fprintln(os.Stderr, "-message is required")
		fs.Usage()
		return false
	}
	return true
}

type serveParams struct {
	addr  string
	debug bool
}

func (p *serveParams) Read(args []string) bool {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.StringVar(&p.addr, "addr", ":8080", "listen address")
	fs.BoolVar(&p.debug, "debug", false, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return false
	}
	return true
}
