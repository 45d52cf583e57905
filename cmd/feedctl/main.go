package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
)

// Testable variables for main()
var osExit = os.Exit

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Print(err)
		osExit(1)
	}
}

type command struct {
	name      string
	usage     string
	protected bool
	fn        func(ctx context.Context, a *app, args []string) error
}

var commands = []command{
	{name: "login", usage: "login --email you@example.com --password secret", fn: cmdLogin},
	{name: "register", usage: "register --name you --email you@example.com --password secret", fn: cmdRegister},
	{name: "logout", usage: "logout", fn: cmdLogout},
	{name: "whoami", usage: "whoami", protected: true, fn: cmdWhoami},
	{name: "feed", usage: "feed [--json]", protected: true, fn: cmdFeed},
	{name: "post", usage: "post --text \"hello\"", protected: true, fn: cmdPost},
	{name: "edit", usage: "edit --id 6 --text \"updated\"", protected: true, fn: cmdEdit},
	{name: "delete", usage: "delete --id 6", protected: true, fn: cmdDelete},
	{name: "comments", usage: "comments --message 6", protected: true, fn: cmdComments},
	{name: "comment", usage: "comment --message 6 --text \"nice\"", protected: true, fn: cmdComment},
	{name: "edit-comment", usage: "edit-comment --message 6 --id 3 --text \"fixed\"", protected: true, fn: cmdEditComment},
	{name: "delete-comment", usage: "delete-comment --message 6 --id 3", protected: true, fn: cmdDeleteComment},
	{name: "stats", usage: "stats [--json]", fn: cmdStats},
}

func run(args []string, out io.Writer) error {
	global := newFlagSet("feedctl")
	envFile := global.String("env-file", "", "dotenv file to load before reading the environment")
	showMetrics := global.Bool("metrics", false, "print client request metrics after the command")
	if err := global.Parse(args); err != nil {
		usage(out)
		return err
	}
	args = global.Args()
	if len(args) == 0 {
		usage(out)
		return errors.New("command required")
	}
	cmd, ok := lookup(args[0])
	if !ok {
		usage(out)
		return fmt.Errorf("unknown command: %s", args[0])
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx, *envFile, out)
	if err != nil {
		return err
	}
	defer a.Close()

	if cmd.protected {
		if err := a.requireLogin(ctx); err != nil {
			return err
		}
	}
	if err := cmd.fn(ctx, a, args[1:]); err != nil {
		return fmt.Errorf("%s: %w", cmd.name, err)
	}
	if *showMetrics {
		fmt.Fprint(out, a.metrics.Summary())
	}
	return nil
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func usage(out io.Writer) {
	fmt.Fprintln(out, "feedctl [--env-file path] [--metrics] <command>")
	fmt.Fprintln(out, "feedctl commands:")
	for _, c := range commands {
		fmt.Fprintf(out, "  %s\n", c.usage)
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}
