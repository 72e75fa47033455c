package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"
	"github.com/google/uuid"

	"rteSync/backend/config"
	"rteSync/backend/internal/richtext"
	"rteSync/backend/internal/session"
	"rteSync/backend/internal/ws"
)

const version = "0.1.0"

const usage = `rte_agent: headless collaborative rich-text editor.

Reads editing commands from stdin, one per line:
  insert <pos> <text>          insert text at pos (positions start at 1)
  delete <from> <to>           delete [from, to)
  mark <from> <to> <mark>      add a mark (strong, emphasis, code, ...)
  unmark <from> <to> <mark>    remove a mark
  bold <from> <to>             same as mark <from> <to> strong
  select <anchor> <head>       set the selection
  print                        show document, selection and connection status
  resync                       rebuild the document from the replica
  quit

Usage:
  rte_agent --room=<room> [--url=<url>] [--text=<text>] [--config=<dir>] [--v=<level>]
  rte_agent -h | --help
  rte_agent --version

Options:
  -h --help        Show this screen.
  --version        Show version.
  --room=<room>    Room id to join.
  --url=<url>      Relay websocket url, overrides the config file.
  --text=<text>    Initial document text.
  --config=<dir>   Directory containing agentConfig.yaml.
  --v=<level>      glog verbosity.
`

// 非法参数交给调用方报错，-h 和 --version 打印后直接退出
var argParser = &docopt.Parser{
	HelpHandler: func(err error, usage string) {
		if err == nil {
			fmt.Println(usage)
			os.Exit(0)
		}
	},
}

func parseArgs(argv []string) (docopt.Opts, error) {
	return argParser.ParseArgs(usage, argv, version)
}

func main() {
	opts, err := parseArgs(os.Args[1:])
	if err != nil {
		glog.Fatalf("invalid arguments: %v\n%s", err, usage)
	}
	if level, err := opts.String("--v"); err == nil && level != "" {
		_ = flag.Set("v", level)
	}
	_ = flag.Set("logtostderr", "true")
	defer glog.Flush()

	room, _ := opts.String("--room")
	var paths []string
	if dir, err := opts.String("--config"); err == nil && dir != "" {
		paths = append(paths, dir)
	}
	cfg, err := config.LoadAgent(paths...)
	if err != nil {
		glog.Fatalf("init config failed: %v", err)
	}
	url := cfg.Relay.URL
	if u, err := opts.String("--url"); err == nil && u != "" {
		url = u
	}
	var initial *richtext.Document
	if text, err := opts.String("--text"); err == nil {
		initial = richtext.FromText(text)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s, err := session.New(ctx, session.Options{
		Room:    room,
		Initial: initial,
		Dial: session.WebSocketDialer(ws.ProviderOptions{
			URL:        url,
			Room:       room,
			ClientID:   uuid.NewString(),
			MinBackoff: cfg.Relay.MinBackoff,
			MaxBackoff: cfg.Relay.MaxBackoff,
		}),
	})
	if err != nil {
		glog.Fatalf("start session failed: %v", err)
	}
	defer s.Close(context.Background())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			quit, err := runCommand(ctx, s, line, os.Stdout)
			if err != nil {
				fmt.Fprintf(os.Stdout, "error: %v\n", err)
			}
			if quit {
				return
			}
		}
	}
}
