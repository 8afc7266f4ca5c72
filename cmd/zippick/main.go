package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/nguyengg/zippick/internal/config"
	"github.com/nguyengg/zippick/internal/server"
)

var opts struct {
	Addr string `long:"addr" description:"bind address; overrides the .zippick setting if given"`
	Port int    `short:"p" long:"port" env:"PORT" description:"listen port" default:"5000"`
}

func main() {
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			return
		}
		os.Exit(1)
	}

	logger := log.New(os.Stderr, "zippick: ", log.LstdFlags)

	if name, err := config.Load(context.Background()); err != nil {
		logger.Printf(`load config "%s" error: %v`, name, err)
	} else if name != "" {
		logger.Printf(`using config "%s"`, name)
	}

	c := config.ForServer()
	if opts.Addr != "" {
		c.Addr = opts.Addr
	}

	s := server.New(func(o *server.Options) {
		o.Logger = logger
		o.CacheSize = c.CacheSize
		o.CacheTTL = c.CacheTTL
		o.MaxRequestsPerSecond = c.MaxRequestsPerSecond
		o.Concurrency = c.Concurrency
	})

	addr := fmt.Sprintf("%s:%d", c.Addr, opts.Port)
	logger.Printf("listening on %s", addr)
	if err := http.ListenAndServe(addr, s.Handler()); err != nil {
		logger.Fatal(err)
	}
}
