package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"

	"github.com/andy6609/roster-chat/internal/chatclient"
	"github.com/andy6609/roster-chat/internal/version"
	chatlog "github.com/andy6609/roster-chat/pkg/log"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "chat-client:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("chat-client", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: chat-client [flags] <name>\n")
		fs.PrintDefaults()
	}
	addr := fs.String("addr", "127.0.0.1:5208", "chat server address")
	logFile := fs.String("log-file", "", "write diagnostic logs to this file")
	logLevel := fs.String("log-level", "info", "log level for --log-file")
	showVersion := fs.Bool("version", false, "print the version and exit")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Println(version.Get())
		return nil
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("exactly one name is required")
	}

	// Logs go to a file only when asked for; stdout belongs to the chat.
	logger, err := chatlog.New(chatlog.Config{
		Level:  *logLevel,
		Format: "console",
		File:   chatlog.FileConfig{Filename: *logFile, MaxBackups: 3},
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	conn, err := net.DialTimeout("tcp", *addr, 5*time.Second)
	if err != nil {
		return errors.Wrapf(err, "connect to %s", *addr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Closing a blocking stdin waits for the pending read, so Run gets a
	// plain reader and the process exit releases it instead.
	stdin := struct{ io.Reader }{os.Stdin}
	err = chatclient.New(conn, logger).Run(ctx, fs.Arg(0), stdin, os.Stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
