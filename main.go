package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/gin-gonic/gin"

	"sigdetour/internal/detour"
	"sigdetour/internal/image"
	"sigdetour/internal/memory"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: sigdetour COMMAND [flags]

commands:
  run       find the configured targets, hook them and serve the status page
  scan      look for a pattern in a PE file or a running process
  compile   check pattern syntax
  init      write a config file with the defaults
`)
}

func main() {
	log.SetHandler(cli.New(os.Stderr))

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runServe(os.Args[2:])
	case "scan":
		err = runScan(os.Args[2:])
	case "compile":
		err = runCompile(os.Args[2:])
	case "init":
		err = runInit(os.Args[2:])
	case "help", "-h", "-help", "--help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.WithError(err).Fatal(os.Args[1])
	}
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	pid := fs.Int("pid", 0, "hook another process (redirect targets only)")
	procName := fs.String("name", "", "hook another process by name (redirect targets only)")
	listen := fs.String("listen", "", "status page address, overrides the config")
	fs.Parse(args)

	if len(os.Args) > 0 {
		dir, _ := filepath.Split(os.Args[0])
		if dir != "" {
			err := os.Chdir(dir)
			if err != nil {
				return fmt.Errorf("cannot cd into %q: %w", dir, err)
			}
		}
	}

	config := &Config{}
	if err := config.Init(); err != nil {
		return fmt.Errorf("cannot init config system: %w", err)
	}
	if err := config.Load(); err != nil {
		return fmt.Errorf("error loading config file: %w", err)
	}
	if *listen != "" {
		config.Listen = *listen
	}

	if level, err := log.ParseLevel(config.LogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.WithError(err).Warnf("bad log level %q", config.LogLevel)
	}

	mem, modules, closer, err := openRunTarget(*pid, *procName)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer()
	}

	mode := targetMode(mem, modules)
	log.Debugf("decoding %d-bit code", mode)

	app := NewApp(config, mem, modules, detour.New(mem, mode), log.Log)

	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()
	if err := config.InitTemplates(r); err != nil {
		return fmt.Errorf("cannot init templates: %w", err)
	}
	app.Routes(r)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app.Start(ctx)

	srv := &http.Server{Addr: config.Listen, Handler: r}
	go func() {
		<-ctx.Done()

		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()

	log.Infof("status page on http://%s/", config.Listen)
	err = srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.Stop()
		return err
	}

	return app.Stop()
}

// targetMode is the bitness of the hooked process: what the OS reports,
// else what the main module's headers say, else this build's.
func targetMode(mem memory.Reader, modules image.Locator) int {
	if p, ok := mem.(interface{ Is64() bool }); ok {
		if p.Is64() {
			return 64
		}
		return 32
	}

	m, err := image.Locate(modules, mem, "")
	if err != nil {
		return detour.NativeMode
	}
	if m.Is64 {
		return 64
	}
	return 32
}

// runInit writes the current settings, defaults included, to the config
// file.
func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, "overwrite an existing config file")
	fs.Parse(args)

	config := &Config{}
	if err := config.Init(); err != nil {
		return fmt.Errorf("cannot init config system: %w", err)
	}

	if _, err := os.Stat(config.Path()); err == nil && !*force {
		return fmt.Errorf("%s exists, use -force to overwrite", config.Path())
	}

	if err := config.Load(); err != nil {
		return fmt.Errorf("error loading config file: %w", err)
	}
	if err := config.Save(); err != nil {
		return fmt.Errorf("cannot save config: %w", err)
	}

	log.Infof("wrote %s", config.Path())
	return nil
}

func openRunTarget(pid int, procName string) (memory.Memory, image.Locator, func(), error) {
	if procName != "" {
		var err error
		pid, err = findProcess(procName)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	if pid == 0 {
		return memory.NewSelf(), image.Self(), nil, nil
	}

	p, err := memory.OpenProcess(pid)
	if err != nil {
		return nil, nil, nil, err
	}

	modules, err := image.ProcessModules(pid)
	if err != nil {
		p.Close()
		return nil, nil, nil, err
	}

	return p, modules, func() { p.Close() }, nil
}

// vim: ai:ts=8:sw=8:noet:syntax=go
