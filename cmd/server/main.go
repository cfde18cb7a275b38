package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/epokhe/kvresp/internal/conn"
	"github.com/epokhe/kvresp/internal/engine"
	"github.com/epokhe/kvresp/internal/server"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  server [flags] <data-file>\n\n")
	flag.PrintDefaults()
	os.Exit(1)
}

func main() {
	var (
		addr  = flag.String("addr", "127.0.0.1:6379", "TCP listen address")
		fsync = flag.Bool("fsync", false, "fsync the data file after every write")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
	}
	dataPath := flag.Arg(0)

	var opts []engine.Option
	if *fsync {
		opts = append(opts, engine.WithFsync(true))
	}

	store, err := engine.Open(dataPath, opts...)
	if err != nil {
		log.Fatalf("could not open the data file: %v", err)
	}
	if err := store.Load(); err != nil {
		log.Fatalf("could not load the data file: %v", err)
	}
	defer store.Close()

	shared := conn.NewSharedStore(store)
	srv := server.New(*addr, shared)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("received %v", sig)
	case err := <-errCh:
		if err != nil {
			log.Printf("server error: %v", err)
		}
	}

	log.Println("shutting down...")
	if err := srv.Shutdown(); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
