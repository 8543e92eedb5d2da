package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/behrlich/ferdis-go/client"
	"github.com/behrlich/ferdis-go/command"
	"github.com/behrlich/ferdis-go/dict"
	"github.com/behrlich/ferdis-go/internal/logging"
	"github.com/behrlich/ferdis-go/internal/metrics"
	"github.com/behrlich/ferdis-go/protocol"
	"github.com/behrlich/ferdis-go/server"
)

func main() {
	var (
		addr    = flag.String("addr", "0.0.0.0:8081", "address for the server to listen on, or the client to connect to")
		verbose = flag.Bool("v", false, "verbose output")
	)
	flag.Usage = usage
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	args := flag.Args()
	if len(args) > 0 && args[0] == "client" {
		runClient(*addr, args[1:])
		return
	}

	runServer(*addr, logger)
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  %s [-addr host:port] [-v]                 run the server\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s [-addr host:port] client <verb> [args] send one command\n", os.Args[0])
	flag.PrintDefaults()
}

func runServer(addr string, logger *logging.Logger) {
	m := metrics.NewMetrics()
	defer m.Stop()
	engine := command.New(dict.New())
	engine.Observer = m
	engine.Logger = logger

	srv := server.New(addr, engine, logger, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	logger.Infof("ferdisd listening on %s", addr)
	if err := srv.Run(ctx); err != nil {
		logger.Errorf("server exited with error: %v", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func runClient(addr string, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "client mode requires a verb, e.g. \"client get my_key\"")
		os.Exit(2)
	}

	c, err := client.Dial(addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to %s: %v\n", addr, err)
		os.Exit(1)
	}
	defer c.Close()

	reply, err := c.Do(args[0], args[1:]...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(1)
	}

	printReply(reply)
}

func printReply(reply protocol.Reply) {
	switch reply.Tag {
	case protocol.TagNil:
		fmt.Println("(nil)")
	case protocol.TagStr:
		fmt.Println(reply.Str)
	case protocol.TagErr:
		fmt.Printf("ERR %d: %s\n", reply.ErrCode, reply.ErrMsg)
	case protocol.TagArr:
		for _, v := range reply.Arr {
			fmt.Println(v)
		}
	}
}
