package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"codejudger/internal/cli/command"
	"codejudger/internal/cli/config"
	httpclient "codejudger/internal/cli/http"
	"codejudger/internal/cli/repl"
	"codejudger/internal/cli/state"
	"codejudger/internal/common/mq"

	"github.com/urfave/cli/v3"
)

const defaultConfigPath = "configs/cli.yaml"

// app is built in Before and shared by every subcommand.
type app struct {
	cfg    config.Config
	client *httpclient.Client
	runner *command.Runner
	kafka  *mq.KafkaQueue
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	if err := a.command().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) command() *cli.Command {
	idArg := "[submission-id]"
	return &cli.Command{
		Name:  "codejudger",
		Usage: "submit code to the judge and follow verdicts",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: defaultConfigPath, Usage: "path to config file"},
			&cli.StringFlag{Name: "base", Usage: "override judge-service base URL", Sources: cli.EnvVars("CODEJUDGER_URL")},
			&cli.DurationFlag{Name: "timeout", Usage: "override HTTP timeout (e.g. 10s)"},
			&cli.StringFlag{Name: "state", Usage: "override state file path"},
			&cli.BoolFlag{Name: "json", Usage: "print JSON instead of text"},
			&cli.BoolFlag{Name: "no-color", Usage: "disable colored output"},
			&cli.StringSliceFlag{Name: "brokers", Usage: "kafka brokers for the events command"},
		},
		Before: a.setup,
		After: func(ctx context.Context, _ *cli.Command) error {
			if a.kafka != nil {
				return a.kafka.Close()
			}
			return nil
		},
		// Without a subcommand the interactive session starts.
		Action: a.runREPL,
		Commands: []*cli.Command{
			{
				Name:  command.CmdSubmit,
				Usage: "queue a submission for judging",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "language", Aliases: []string{"l"}, Required: true, Usage: "python, cpp or java"},
					&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Required: true, Usage: "source file"},
					&cli.Int64Flag{Name: "problem", Aliases: []string{"p"}, Usage: "problem id whose fixtures to judge against"},
					&cli.StringFlag{Name: "cases", Usage: "JSON file with inline test cases"},
					&cli.FloatFlag{Name: "time-limit", Usage: "seconds"},
					&cli.Int64Flag{Name: "memory-limit", Usage: "MB"},
					&cli.Int64Flag{Name: "output-limit", Usage: "KB"},
					&cli.StringFlag{Name: "callback", Usage: "callback URL"},
					&cli.StringFlag{Name: "callback-token", Usage: "token echoed to the callback"},
					&cli.StringFlag{Name: "id", Usage: "caller-assigned submission id"},
					&cli.BoolFlag{Name: "watch", Aliases: []string{"w"}, Usage: "follow the submission until judged"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return a.runner.Run(ctx, command.CmdSubmit, submitParams(cmd))
				},
			},
			a.idCommand(command.CmdStatus, "show the status of a submission", idArg),
			a.idCommand(command.CmdRejudge, "judge a stored submission again", idArg),
			a.idCommand(command.CmdWatch, "follow a submission until it is judged", idArg),
			a.idCommand(command.CmdEvents, "tail final status events, optionally for one submission", idArg),
			{
				Name:  command.CmdRecent,
				Usage: "list submissions made from this machine",
				Action: func(ctx context.Context, _ *cli.Command) error {
					return a.runner.Run(ctx, command.CmdRecent, command.Params{})
				},
			},
		},
	}
}

func (a *app) idCommand(name, usage, argsUsage string) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: argsUsage,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			params := command.Params{}
			if id := cmd.Args().First(); id != "" {
				params.Set("id", id)
			}
			return a.runner.Run(ctx, name, params)
		},
	}
}

func (a *app) setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return ctx, err
	}
	if v := cmd.String("base"); v != "" {
		cfg.BaseURL = v
	}
	if v := cmd.Duration("timeout"); v > 0 {
		cfg.Timeout = v
	}
	if v := cmd.String("state"); v != "" {
		cfg.StatePath = v
	}
	if v := cmd.StringSlice("brokers"); len(v) > 0 {
		cfg.Events.Brokers = v
	}
	if cmd.Bool("no-color") {
		cfg.NoColor = true
	}

	st, err := state.Load(cfg.StatePath)
	if err != nil {
		return ctx, err
	}
	runnerCfg := command.RunnerConfig{
		Printer:     command.NewPrinter(os.Stdout, cmd.Bool("json"), *cfg.PrettyJSON, cfg.NoColor),
		State:       &st,
		StatePath:   cfg.StatePath,
		EventsTopic: cfg.Events.Topic,
		EventsGroup: cfg.Events.Group,
	}
	if len(cfg.Events.Brokers) > 0 {
		kafka, err := mq.NewKafkaQueue(mq.KafkaConfig{Brokers: cfg.Events.Brokers})
		if err != nil {
			return ctx, fmt.Errorf("init kafka failed: %w", err)
		}
		a.kafka = kafka
		runnerCfg.Events = kafka
	}
	a.cfg = cfg
	a.client = httpclient.New(cfg.BaseURL, cfg.Timeout)
	runnerCfg.API = a.client
	a.runner = command.NewRunner(runnerCfg)
	return ctx, nil
}

func (a *app) runREPL(ctx context.Context, _ *cli.Command) error {
	commands := command.Registry()
	rl, err := repl.NewReadline(a.cfg.HistoryFile, commands)
	if err != nil {
		return fmt.Errorf("init line editor failed: %w", err)
	}
	defer rl.Close()
	repl.New(a.client, a.runner, commands, rl, rl.Stdout()).Run(ctx)
	return nil
}

func submitParams(cmd *cli.Command) command.Params {
	params := command.Params{
		"language":       cmd.String("language"),
		"source_file":    cmd.String("source"),
		"cases_file":     cmd.String("cases"),
		"callback_url":   cmd.String("callback"),
		"callback_token": cmd.String("callback-token"),
		"id":             cmd.String("id"),
		"watch":          strconv.FormatBool(cmd.Bool("watch")),
	}
	if cmd.IsSet("problem") {
		params.Set("problem_id", strconv.FormatInt(cmd.Int64("problem"), 10))
	}
	if cmd.IsSet("time-limit") {
		params.Set("time_limit", strconv.FormatFloat(cmd.Float("time-limit"), 'f', -1, 64))
	}
	if cmd.IsSet("memory-limit") {
		params.Set("memory_limit", strconv.FormatInt(cmd.Int64("memory-limit"), 10))
	}
	if cmd.IsSet("output-limit") {
		params.Set("output_limit", strconv.FormatInt(cmd.Int64("output-limit"), 10))
	}
	return params
}
