package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pdvbar/comandas/config"
	"github.com/pdvbar/comandas/internal/adminapi"
	"github.com/pdvbar/comandas/internal/app"
	"github.com/pdvbar/comandas/internal/webserver"
	"go.uber.org/zap"
)

var (
	h          = flag.Bool("h", false, "help usage")
	showVer    = flag.Bool("v", false, "show version")
	conffile   = flag.String("c", "", "config yaml file")
	dev        = flag.Bool("dev", false, "run develop mode")
	initDB     = flag.Bool("initdb", false, "drop and recreate all tables, then exit")
	issueToken = flag.String("token", "", "print a staff token for id:role (MANAGER, CAIXA or GARCOM) and exit")
)

var version = "develop"

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
	if *dev {
		cfg.Logger.Mode = "development"
		cfg.System.Debug = true
	}

	if *issueToken != "" {
		parts := strings.SplitN(*issueToken, ":", 2)
		if len(parts) != 2 {
			fmt.Fprintln(os.Stderr, "token format is id:role")
			os.Exit(2)
		}
		tok, err := webserver.IssueToken(cfg.Web.Secret, parts[0], parts[0], strings.ToUpper(parts[1]), 12*time.Hour)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(tok)
		return
	}

	application := app.NewApplication(cfg)
	application.Init(cfg)
	defer application.Release()

	if *initDB {
		application.InitDb()
		return
	}

	adminapi.Init()
	server := webserver.NewWebServer(application)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-quit:
		zap.S().Infof("received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			zap.S().Errorf("admin server stopped: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		zap.S().Errorf("shutdown admin server: %v", err)
	}
}
