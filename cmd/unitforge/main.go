// Command unitforge compiles declarative service specs into systemd
// units, Docker argument vectors, and cloud scheduler expressions, and
// drives the resulting services through their lifecycle.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"unitforge/internal/config"
	"unitforge/internal/registry"
	"unitforge/pkg/lifecycle"
	"unitforge/pkg/logx"
	"unitforge/pkg/schedule"
)

var version = "dev" // overridden during build with ldflags

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cli.Command {
	return &cli.Command{
		Name:    "unitforge",
		Usage:   "Compile resource-and-schedule specs into systemd, Docker, and cloud scheduler artifacts",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "spec-dir",
				Value: "/etc/unitforge/specs",
				Usage: "Directory of service spec files (YAML or JSON)",
			},
			&cli.StringFlag{
				Name:  "unit-dir",
				Value: "/etc/systemd/system",
				Usage: "Directory rendered unit files are written to",
			},
			&cli.StringFlag{
				Name:  "env-root",
				Value: "/etc/unitforge/env",
				Usage: "Only directory environment files may be read from",
			},
			&cli.StringFlag{
				Name:  "venv-root",
				Value: config.DefaultVenvRoot,
				Usage: "Root directory for venv runtime interpreters",
			},
			&cli.StringFlag{
				Name:  "registry",
				Value: "/var/lib/unitforge/registry.db",
				Usage: "Deployment registry path (empty disables the registry)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "Log level (trace, debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			renderCmd(),
			createCmd(),
			patternCmd("start", "Start every unit the pattern matches",
				func(ctx context.Context, m *lifecycle.Manager, pat string) (lifecycle.BatchResult, error) {
					return m.Start(ctx, pat)
				}),
			patternCmd("stop", "Stop every unit the pattern matches",
				func(ctx context.Context, m *lifecycle.Manager, pat string) (lifecycle.BatchResult, error) {
					return m.Stop(ctx, pat)
				}),
			patternCmd("restart", "Stop, then start, every unit the pattern matches",
				func(ctx context.Context, m *lifecycle.Manager, pat string) (lifecycle.BatchResult, error) {
					return m.Restart(ctx, pat)
				}),
			patternCmd("enable", "Enable boot-time activation (and timers) for matching units",
				func(ctx context.Context, m *lifecycle.Manager, pat string) (lifecycle.BatchResult, error) {
					return m.Enable(ctx, pat)
				}),
			patternCmd("disable", "Disable boot-time activation for matching units",
				func(ctx context.Context, m *lifecycle.Manager, pat string) (lifecycle.BatchResult, error) {
					return m.Disable(ctx, pat)
				}),
			patternCmd("remove", "Stop matching units and delete their artifacts",
				func(ctx context.Context, m *lifecycle.Manager, pat string) (lifecycle.BatchResult, error) {
					return m.Remove(ctx, pat)
				}),
			statusCmd(),
			previewCmd(),
			watchCmd(),
		},
	}
}

func renderCmd() *cli.Command {
	return &cli.Command{
		Name:  "render",
		Usage: "Compile specs and print the artifacts without touching the system",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logx.NewConsole(cmd.String("log-level"))
			defs, err := loadDefs(cmd)
			if err != nil {
				return err
			}

			m := lifecycle.NewManager(lifecycle.Options{
				UnitDir: cmd.String("unit-dir"),
				EnvRoot: cmd.String("env-root"),
				Log:     log,
			})
			for _, def := range filterDefs(defs, cmd.Args().Slice()) {
				art, err := m.Render(def)
				if err != nil {
					return err
				}
				for _, u := range art.Units {
					fmt.Printf("# %s\n%s\n", u.Path, u.Text)
				}
				if art.Container.Image != "" {
					fmt.Printf("# docker create --name %s %v %s %v\n\n",
						art.Container.Name, art.Container.Args, art.Container.Image, art.Container.Command)
				}
				for _, e := range art.CloudExpressions {
					fmt.Printf("# cloud schedule: %s\n", e)
				}
			}
			return nil
		},
	}
}

func createCmd() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Render and deploy specs (all of them, or only the named services)",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			defs, err := loadDefs(cmd)
			if err != nil {
				return err
			}
			m, cleanup, err := newManager(ctx, cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			for _, def := range filterDefs(defs, cmd.Args().Slice()) {
				if _, err := m.Create(ctx, def); err != nil {
					return err
				}
				fmt.Printf("created %s\n", def.Name)
			}
			return nil
		},
	}
}

func patternCmd(name, usage string, op func(context.Context, *lifecycle.Manager, string) (lifecycle.BatchResult, error)) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<name-or-pattern>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("%s takes exactly one service name or pattern", name)
			}
			m, cleanup, err := newManager(ctx, cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := op(ctx, m, cmd.Args().First())
			if err != nil {
				return err
			}
			for _, r := range res.Results {
				fmt.Println(r.Message)
			}
			if res.Total == 0 {
				fmt.Printf("%s: nothing matched %q\n", name, cmd.Args().First())
			}
			if res.FailureCount > 0 {
				return fmt.Errorf("%d of %d operations failed", res.FailureCount, res.Total)
			}
			return nil
		},
	}
}

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show the systemd view of matching units",
		ArgsUsage: "<name-or-pattern>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("status takes exactly one service name or pattern")
			}
			m, cleanup, err := newManager(ctx, cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			statuses, err := m.Status(ctx, cmd.Args().First())
			if err != nil {
				return err
			}
			for _, st := range statuses {
				enabled := "disabled"
				if st.Enabled {
					enabled = "enabled"
				}
				fmt.Printf("%-24s %s (%s) %s %s\n", st.Name, st.ActiveState, st.SubState, st.LoadState, enabled)
			}
			return nil
		},
	}
}

func previewCmd() *cli.Command {
	return &cli.Command{
		Name:  "preview",
		Usage: "Show upcoming activations for the calendar schedules in the specs",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "count",
				Value: 5,
				Usage: "Activations to show per schedule",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			defs, err := loadDefs(cmd)
			if err != nil {
				return err
			}
			now := time.Now()
			for _, def := range filterDefs(defs, cmd.Args().Slice()) {
				for _, s := range def.Schedules {
					cal, ok := s.(schedule.Calendar)
					if !ok {
						continue
					}
					next, err := schedule.NextActivations(cal, now, int(cmd.Int("count")))
					if err != nil {
						return fmt.Errorf("service %s: %w", def.Name, err)
					}
					fmt.Printf("%s (%s):\n", def.Name, cal.Spec)
					for _, t := range next {
						fmt.Printf("  %s\n", t.Format(time.RFC1123))
					}
				}
			}
			return nil
		},
	}
}

func watchCmd() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Watch the spec directory and redeploy services whose specs change",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logx.NewConsole(cmd.String("log-level"))
			m, cleanup, err := newManager(ctx, cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			w := config.NewWatcher(cmd.String("spec-dir"), resolveOpts(cmd), log)
			if _, err := w.LoadAll(); err != nil {
				return err
			}
			return w.Watch(ctx, func(path string, defs []lifecycle.Definition) {
				for _, def := range defs {
					if _, err := m.Create(ctx, def); err != nil {
						log.Error("redeploy failed",
							logx.String("spec", path),
							logx.String("service", def.Name),
							logx.Err(err))
					}
				}
			})
		},
	}
}

func loadDefs(cmd *cli.Command) ([]lifecycle.Definition, error) {
	log := logx.NewConsole(cmd.String("log-level"))
	w := config.NewWatcher(cmd.String("spec-dir"), resolveOpts(cmd), log)
	return w.LoadAll()
}

func resolveOpts(cmd *cli.Command) config.ResolveOptions {
	return config.ResolveOptions{VenvRoot: cmd.String("venv-root")}
}

// filterDefs keeps only the named services; no names keeps everything.
func filterDefs(defs []lifecycle.Definition, names []string) []lifecycle.Definition {
	if len(names) == 0 {
		return defs
	}
	want := map[string]bool{}
	for _, n := range names {
		want[n] = true
	}
	var out []lifecycle.Definition
	for _, d := range defs {
		if want[d.Name] {
			out = append(out, d)
		}
	}
	return out
}

func newManager(ctx context.Context, cmd *cli.Command) (*lifecycle.Manager, func(), error) {
	log := logx.NewConsole(cmd.String("log-level"))

	client, err := lifecycle.NewDBusClient(ctx, log)
	if err != nil {
		return nil, nil, err
	}

	var store registry.Store
	if path := cmd.String("registry"); path != "" {
		store, err = registry.Open(registry.Config{Driver: "file", Path: path}, log)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
	}

	m := lifecycle.NewManager(lifecycle.Options{
		UnitDir:  cmd.String("unit-dir"),
		EnvRoot:  cmd.String("env-root"),
		Client:   client,
		Runtime:  lifecycle.NewDockerCLI(log),
		Registry: store,
		Log:      log,
	})
	cleanup := func() {
		if store != nil {
			_ = store.Close()
		}
		_ = client.Close()
	}
	return m, cleanup, nil
}
