// Package main implements shardctl, the operator's command line for a shard
// fleet. Each subcommand is a thin adapter over the topology, transform and
// scheduler packages.
//
// Configuration is read from the file named by -config or SHARDTOPO_CONFIG,
// then from SHARDTOPO_* variables, then from global flags.
//
// Example usage:
//
//	shardctl -hosts ns1,ns2 forwardings -table 1
//	shardctl subtree db1/shard_0001
//	shardctl -dry-run migrate db1/shard_0001 db7/shard_0001
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/dreamware/shardtopo/internal/config"
	"github.com/dreamware/shardtopo/internal/topology"
)

var errUsage = errors.New("usage")

// connect opens the fleet client; tests replace it.
var connect = topology.New

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout)
	switch {
	case err == nil:
	case errors.Is(err, errUsage):
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	default:
		log.Printf("shardctl: %v", err)
		os.Exit(1)
	}
}

// env is what a subcommand runs with.
type env struct {
	ctx    context.Context
	cfg    config.Config
	client *topology.Client
	force  bool
	in     *bufio.Reader
	out    io.Writer
}

func (e *env) println(a ...interface{}) {
	fmt.Fprintln(e.out, a...)
}

type command struct {
	args string
	help string
	run  func(e *env, args []string) error
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("shardctl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var (
		configPath  = fs.String("config", os.Getenv("SHARDTOPO_CONFIG"), "YAML configuration file")
		hosts       = fs.String("hosts", "", "comma separated shard manager hosts, primary first")
		retries     = fs.Int("retries", 0, "attempts after the first on transient failures")
		interval    = fs.Duration("retry-interval", 0, "pause between attempts")
		parallelism = fs.Int("parallelism", 0, "link traversal workers")
		dryRun      = fs.Bool("dry-run", false, "log mutations instead of applying them")
		force       = fs.Bool("force", false, "skip confirmations and topology checks")
	)
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v\n%s", errUsage, err, usage())
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("%w: no command\n%s", errUsage, usage())
	}
	name, rest := fs.Arg(0), fs.Args()[1:]
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("%w: unknown command %q\n%s", errUsage, name, usage())
	}

	cfg, err := config.Read(*configPath)
	if err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "hosts":
			cfg.Hosts = config.SplitHosts(*hosts)
		case "retries":
			cfg.Retries = *retries
		case "retry-interval":
			cfg.RetryInterval = *interval
		case "parallelism":
			cfg.Parallelism = *parallelism
		case "dry-run":
			cfg.DryRun = *dryRun
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	client, err := connect(cfg.Topology())
	if err != nil {
		return err
	}
	defer client.Close()

	return cmd.run(&env{
		ctx:    ctx,
		cfg:    cfg,
		client: client,
		force:  *force,
		in:     bufio.NewReader(stdin),
		out:    stdout,
	}, rest)
}

func usage() string {
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("usage: shardctl [-config file] [-hosts h1,h2] [-retries n] [-retry-interval d] [-parallelism n] [-dry-run] [-force] command [args]\n\ncommands:\n")
	for _, n := range names {
		c := commands[n]
		fmt.Fprintf(&b, "  %-15s %-40s %s\n", n, c.args, c.help)
	}
	return b.String()
}

// subcommand parses the flags of one command and checks its argument count.
type subcommand struct {
	*flag.FlagSet
	name    string
	minArgs int
	maxArgs int // negative: unbounded
}

func newSubcommand(name string, minArgs, maxArgs int) *subcommand {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return &subcommand{FlagSet: fs, name: name, minArgs: minArgs, maxArgs: maxArgs}
}

func (s *subcommand) parse(args []string) ([]string, error) {
	if err := s.Parse(args); err != nil {
		return nil, s.usageError(err.Error())
	}
	n := s.NArg()
	if n < s.minArgs || (s.maxArgs >= 0 && n > s.maxArgs) {
		return nil, s.usageError(fmt.Sprintf("wrong number of arguments (%d)", n))
	}
	return s.Args(), nil
}

func (s *subcommand) usageError(msg string) error {
	return fmt.Errorf("%w: %s: %s\n  shardctl %s %s", errUsage, s.name, msg, s.name, commands[s.name].args)
}
