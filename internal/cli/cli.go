// Package cli implements vkclusterctl's subcommand dispatch, grounded on
// the teacher's Execute(args []string) int style in this same package.
package cli

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"vkcluster/internal/cluster"
	"vkcluster/internal/config"
	"vkcluster/internal/logger"
)

// Execute dispatches CLI subcommands.
func Execute(args []string) int {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	log.SetPrefix("[vkclusterctl] ")

	if len(args) == 0 {
		printUsage()
		return 1
	}

	switch args[0] {
	case "ping":
		return runPing(args[1:])
	case "get":
		return runGet(args[1:])
	case "set":
		return runSet(args[1:])
	case "topology":
		return runTopology(args[1:])
	case "probe-vs-goredis":
		return runProbe(args[1:])
	case "help", "-h", "--help":
		printUsage()
		return 0
	case "version", "--version", "-v":
		fmt.Println("vkclusterctl 0.1.0-dev")
		return 0
	default:
		log.Printf("Unknown subcommand: %s", args[0])
		printUsage()
		return 1
	}
}

// clientFromFlags parses the shared --config flag and builds a connected
// blocking cluster.Client.
func clientFromFlags(cmd string, args []string) (*cluster.Client, *flag.FlagSet, error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	var configPath string
	fs.StringVar(&configPath, "config", "", "Configuration file path (YAML)")
	fs.StringVar(&configPath, "c", "", "Configuration file path (YAML)")
	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}
	if configPath == "" {
		return nil, fs, fmt.Errorf("the --config flag is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fs, fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init("logs", logger.INFO, "vkclusterctl"); err != nil {
		return nil, fs, fmt.Errorf("init logger: %w", err)
	}
	c, err := cluster.New(cluster.Options{
		InitialNodes:          cfg.InitialNodes,
		UseClusterNodes:       cfg.UseClusterNodes,
		UseReplicas:           cfg.UseReplicas,
		BlockingInitialUpdate: true,
		ConnectTimeout:        cfg.ConnectTimeout.Value(),
		CommandTimeout:        cfg.CommandTimeout.Value(),
		Username:              cfg.Username,
		Password:              cfg.Password,
		SelectDB:              cfg.SelectDB,
		MaxRetry:              cfg.MaxRetry,
	})
	if err != nil {
		return nil, fs, fmt.Errorf("connect: %w", err)
	}
	return c, fs, nil
}

func runPing(args []string) int {
	c, fs, err := clientFromFlags("ping", args)
	if err != nil {
		return errorToExitCode(err, fs)
	}
	defer c.Close()
	reply, err := c.Do("PING")
	if err != nil {
		log.Printf("PING failed: %v", err)
		return 1
	}
	fmt.Println(reply.Str)
	return 0
}

func runGet(args []string) int {
	c, fs, err := clientFromFlags("get", args)
	if err != nil {
		return errorToExitCode(err, fs)
	}
	defer c.Close()
	if fs.NArg() < 1 {
		log.Println("usage: get --config FILE <key>")
		return 2
	}
	key := fs.Arg(0)
	reply, err := c.Do("GET", key)
	if err != nil {
		log.Printf("GET failed: %v", err)
		return 1
	}
	fmt.Println(reply.Str)
	return 0
}

func runSet(args []string) int {
	c, fs, err := clientFromFlags("set", args)
	if err != nil {
		return errorToExitCode(err, fs)
	}
	defer c.Close()
	if fs.NArg() < 2 {
		log.Println("usage: set --config FILE <key> <value>")
		return 2
	}
	reply, err := c.Do("SET", fs.Arg(0), fs.Arg(1))
	if err != nil {
		log.Printf("SET failed: %v", err)
		return 1
	}
	fmt.Println(reply.Str)
	return 0
}

func runTopology(args []string) int {
	c, fs, err := clientFromFlags("topology", args)
	if err != nil {
		return errorToExitCode(err, fs)
	}
	defer c.Close()
	for _, n := range c.Topology() {
		fmt.Printf("%s  role=%s  slots=%v\n", n.Addr, n.Role, n.Slots)
	}
	return 0
}

func runProbe(args []string) int {
	fs := flag.NewFlagSet("probe-vs-goredis", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	var configPath string
	fs.StringVar(&configPath, "config", "", "Configuration file path (YAML)")
	fs.StringVar(&configPath, "c", "", "Configuration file path (YAML)")
	if err := fs.Parse(args); err != nil {
		return errorToExitCode(err, fs)
	}
	if configPath == "" {
		log.Println("the --config flag is required")
		return 2
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("load config: %v", err)
		return 2
	}
	mismatches, err := probeAgainstGoRedis(cfg)
	if err != nil {
		log.Printf("probe failed: %v", err)
		return 1
	}
	if mismatches > 0 {
		log.Printf("%d slot(s) disagree with go-redis's view", mismatches)
		return 1
	}
	fmt.Println("topology matches go-redis's view")
	return 0
}

func errorToExitCode(err error, fs *flag.FlagSet) int {
	if err == flag.ErrHelp {
		return 0
	}
	log.Printf("%v", err)
	if fs != nil {
		fs.Usage()
	}
	return 1
}

func printUsage() {
	binary := filepath.Base(os.Args[0])
	fmt.Printf(`vkclusterctl - a Valkey/Redis Cluster client CLI

Usage:
  %[1]s <command> [options]

Available commands:
  ping               Ping any cluster node
  get                GET a key, routed by hash slot
  set                SET a key, routed by hash slot
  topology           Print the cached slot map
  probe-vs-goredis   Cross-check topology against go-redis's ClusterClient
  help               Show this help
  version            Show version info

Examples:
  %[1]s ping --config vkcluster.yaml
  %[1]s get --config vkcluster.yaml foo
  %[1]s topology --config vkcluster.yaml
`, binary)
}
