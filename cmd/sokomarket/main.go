package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bjo163/sokomarket/config"
	"github.com/bjo163/sokomarket/internal/adminapi"
	"github.com/bjo163/sokomarket/internal/app"
	"github.com/bjo163/sokomarket/internal/webserver"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	version  = "develop"
	h        = flag.Bool("h", false, "help usage")
	showVer  = flag.Bool("v", false, "show version")
	conffile = flag.String("c", "", "config yaml file")
	initdb   = flag.Bool("initdb", false, "drop and recreate all tables, then exit")
	migrate  = flag.Bool("migrate", false, "run database migrations and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Println(version)
		return
	}
	if *h {
		flag.Usage()
		return
	}

	cfg := config.LoadConfig(*conffile)
	application := app.NewApplication(cfg)
	application.Init(cfg)
	defer application.Release()

	if *initdb {
		application.InitDb()
		zap.S().Info("database initialized")
		return
	}
	if *migrate {
		if err := application.MigrateDB(true); err != nil {
			zap.S().Errorf("migrate: %v", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	webserver.Init(application)
	adminapi.Init()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return webserver.Listen()
	})
	g.Go(func() error {
		application.StartBackgroundJobs(gctx)
		<-gctx.Done()
		zap.S().Info("shutting down")
		return webserver.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		zap.S().Errorf("server stopped: %v", err)
	}
}
