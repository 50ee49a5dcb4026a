package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"coderunner/internal/cli/command"
	"coderunner/internal/cli/config"
	httpclient "coderunner/internal/cli/http"
	"coderunner/internal/cli/repl"

	"github.com/chzyer/readline"
)

const defaultConfigPath = "configs/cli.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 10s)")
	raw := flag.Bool("raw", false, "Print JSON responses without indentation")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *raw {
		pretty := false
		cfg.PrettyJSON = &pretty
	}

	commands := command.Registry()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "runner> ",
		HistoryFile:     cfg.HistoryFile,
		AutoComplete:    repl.Completer(commands),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init terminal failed: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	client := httpclient.New(cfg.BaseURL, cfg.Timeout, cfg.GzipThreshold)
	session := repl.New(client, commands, rl, rl.Stdout(), *cfg.PrettyJSON)
	if err := session.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
	}
}
