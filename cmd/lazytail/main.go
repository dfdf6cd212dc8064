// Command lazytail is the CLI entrypoint: an interactive multi-source log
// viewer (normal mode), a captured-pipe tee (--name), and a read-only MCP
// adapter (--mcp), per spec section 6's "CLI surface the core consumes."
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/lazytail/internal/capture"
	"github.com/standardbeagle/lazytail/internal/config"
	"github.com/standardbeagle/lazytail/internal/coordinator"
	"github.com/standardbeagle/lazytail/internal/debug"
	"github.com/standardbeagle/lazytail/internal/rpcserver"
	"github.com/standardbeagle/lazytail/internal/session"
	"github.com/standardbeagle/lazytail/internal/source"
	"github.com/standardbeagle/lazytail/internal/version"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	app := &cli.App{
		Name:                   "lazytail",
		Usage:                  "interactive multi-source log viewer",
		Version:                version.Version,
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "name",
				Usage: "capture mode: tee stdin to a named, persisted source",
			},
			&cli.BoolFlag{
				Name:  "mcp",
				Usage: "serve the read-only RPC adapter over stdio instead of the TUI",
			},
		},
		Action: rootAction,
	}

	if err := app.Run(args); err != nil {
		if ec, ok := err.(cli.ExitCoder); ok {
			fmt.Fprintln(os.Stderr, err)
			return ec.ExitCode()
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func rootAction(c *cli.Context) error {
	if debug.IsDebugEnabled() {
		if path, err := debug.InitDebugLogFile(); err == nil {
			defer debug.CloseDebugLog()
			debug.Log("MAIN", "debug log: %s", path)
		}
	}

	tunables := config.Default()

	switch {
	case c.String("name") != "":
		return runCapture(c, tunables)
	case c.Bool("mcp"):
		return runRPC(c, tunables)
	default:
		return runTUI(c, tunables)
	}
}

// runCapture tees stdin to a named, persisted source until EOF or a
// terminating signal (spec section 5/6).
func runCapture(c *cli.Context, tunables config.Tunables) error {
	name := c.String("name")
	cwd, err := os.Getwd()
	if err != nil {
		return cli.Exit(err, 1)
	}
	layout, err := session.NewLayout(cwd)
	if err != nil {
		return cli.Exit(err, 1)
	}
	if removed, err := capture.SweepStale(layout.SourcesDir()); err == nil && len(removed) > 0 {
		debug.LogCapture("swept %d stale marker(s): %v", len(removed), removed)
	}

	capturer, err := capture.Start(name, layout, tunables)
	if err != nil {
		return cli.Exit(err, 2)
	}

	code := capture.RunWithSignals(capturer, os.Stdin)
	return cli.Exit(nil, code)
}

// runRPC serves the six read-only tools over stdio, registering every
// positional path, and every capture that has a PID marker in this
// project's layout, with the adapter's registry. A capture that ended and
// removed its marker is not registered.
func runRPC(c *cli.Context, tunables config.Tunables) error {
	debug.SetRPCMode(true)

	registry := rpcserver.NewRegistry()
	paths, err := expandPaths(c.Args().Slice())
	if err != nil {
		return cli.Exit(err, 2)
	}
	for _, p := range paths {
		registry.Register(rpcserver.Entry{Name: p, Path: p})
	}

	cwd, err := os.Getwd()
	if err == nil {
		if layout, err := session.NewLayout(cwd); err == nil {
			registerCapturedSources(registry, layout)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := rpcserver.New(registry, tunables)
	if err := srv.Start(ctx); err != nil && ctx.Err() == nil {
		return cli.Exit(err, 1)
	}
	return nil
}

func registerCapturedSources(registry *rpcserver.Registry, layout session.Layout) {
	entries, err := os.ReadDir(layout.SourcesDir())
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		registry.Register(rpcserver.Entry{
			Name:     e.Name(),
			Path:     layout.DataFile(e.Name()),
			IndexDir: layout.IndexDir(e.Name()),
		})
	}
}

// runTUI opens every positional path as a file source, adopts stdin as a
// stream source when it is not a terminal, and drives the coordinator's
// event loop until VerbQuit or a terminating signal. The coordinator loop
// and a signal watcher that quits it are two top-level workers that must
// both be waited on, and the end of either should stop the other — the
// genuine fit for errgroup this module has, unlike the coordinator's own
// internal goroutines (see DESIGN.md).
func runTUI(c *cli.Context, tunables config.Tunables) error {
	paths, err := expandPaths(c.Args().Slice())
	if err != nil {
		return cli.Exit(err, 2)
	}

	if len(paths) == 0 && isTerminal(os.Stdin) {
		return cli.Exit(fmt.Errorf("lazytail: no file arguments and stdin is a terminal; nothing to view"), 2)
	}

	var input coordinator.InputReader = newLineInput(os.Stdin)
	if !isTerminal(os.Stdin) {
		input = noInput{}
	}

	coord := coordinator.New(newPlainRenderer(os.Stdout), input, tunables)
	defer coord.Close()

	for _, p := range paths {
		src, err := source.New(p, p, tunables)
		if err != nil {
			return cli.Exit(err, 2)
		}
		if err := coord.AddSource(src); err != nil {
			return cli.Exit(err, 1)
		}
	}

	if !isTerminal(os.Stdin) {
		stdinSrc, err := source.NewStream("stdin", tunables)
		if err != nil {
			return cli.Exit(err, 1)
		}
		if err := coord.AddSource(stdinSrc); err != nil {
			return cli.Exit(err, 1)
		}
		coord.AttachStream(stdinSrc.Name, coordinator.StartStdinStream(os.Stdin))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stop() // a VerbQuit exit must also release the signal watcher
		return coord.Run()
	})
	g.Go(func() error {
		<-gctx.Done()
		coord.Quit()
		return nil
	})

	if err := g.Wait(); err != nil {
		return cli.Exit(err, 1)
	}

	saveSessionState(coord, paths)
	return nil
}

func saveSessionState(coord *coordinator.Coordinator, paths []string) {
	if len(paths) == 0 {
		return
	}
	cwd, err := os.Getwd()
	if err != nil {
		return
	}
	layout, err := session.NewLayout(cwd)
	if err != nil {
		return
	}
	sessionPath, err := layout.SessionFile()
	if err != nil {
		return
	}

	tunables := config.Default()
	sess := session.Load(sessionPath, tunables)
	active := coord.Active()
	if active == nil {
		return
	}
	sess.Put(layout.Key(cwd), active.Name)
	if err := os.MkdirAll(filepath.Dir(sessionPath), 0o700); err != nil {
		return
	}
	if err := sess.Save(sessionPath); err != nil {
		debug.Log("MAIN", "failed to save session: %v", err)
	}
}

func expandPaths(args []string) ([]string, error) {
	var out []string
	for _, a := range args {
		matches, err := doublestar.FilepathGlob(a)
		if err != nil {
			return nil, fmt.Errorf("invalid glob %q: %w", a, err)
		}
		if len(matches) == 0 {
			out = append(out, a) // literal path; source.New reports "not found" itself
			continue
		}
		out = append(out, matches...)
	}
	return out, nil
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

