package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"covidboard/internal/app"
	"covidboard/internal/config"
	logx "covidboard/pkg/logx"
)

type BuildArgs struct {
	Version string
	Commit  string
	Date    string
}

var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:   "config, c",
		Value:  "./config.json",
		Usage:  "path to the config file (json or yaml)",
		EnvVar: "COVIDBOARD_CONFIG",
	},
}

func Execute(args []string, b BuildArgs) error {
	a := cli.App{
		Name:      "covidboard",
		HelpName:  "covidboard",
		Usage:     "COVID figures and news dashboard with scheduled updates.",
		Version:   fmt.Sprintf("%s (%s, %s) %s/%s", b.Version, b.Commit, b.Date, runtime.GOOS, runtime.GOARCH),
		UsageText: "covidboard [--config FILE] <command> [arguments...]",
		Flags:     globalFlags,
		Commands: []cli.Command{
			{
				Name:   "serve",
				Usage:  "run the dashboard server (default)",
				Action: serve,
			},
			{
				Name:   "refresh",
				Usage:  "fetch stats and news once into the cache and print them",
				Action: refresh,
			},
			{
				Name:      "import-csv",
				Usage:     "summarize a national CSV export into the cached figures",
				ArgsUsage: "<file>",
				Action:    importCSV,
			},
			{
				Name:   "check-config",
				Usage:  "validate the config file and exit",
				Action: checkConfig,
			},
		},
		Action: serve,
	}
	return a.Run(args)
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.GlobalString("config")
	if path == "" {
		path = c.String("config")
	}
	cfg, err := config.NewConfigManager(path).Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func serve(c *cli.Context) error {
	path := c.GlobalString("config")
	if path == "" {
		path = c.String("config")
	}
	a, err := app.NewApp(path)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := a.Start(context.Background()); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopUnknown
	select {
	case sig := <-sigCh:
		reason = app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()
	_ = a.Stop(ctx, reason)
	if reason == app.StopFatalError {
		if err := a.Err(); err != nil {
			return err
		}
		return errors.New("stopped unexpectedly")
	}
	return nil
}

func refresh(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log := logx.NewConsole(cfg.Logging.Level)
	view, err := app.RefreshOnce(context.Background(), cfg, log)
	if perr := printJSON(view); perr != nil {
		return perr
	}
	return err
}

func importCSV(c *cli.Context) error {
	file := c.Args().First()
	if file == "" {
		return errors.New("import-csv: missing <file>")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	sum, err := app.ImportCSV(context.Background(), cfg, logx.NewConsole(cfg.Logging.Level), f)
	if err != nil {
		return err
	}
	return printJSON(sum)
}

func checkConfig(c *cli.Context) error {
	if _, err := loadConfig(c); err != nil {
		return err
	}
	fmt.Println("config ok")
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
