package command

import (
	"context"
	"fmt"

	httpclient "codejudger/internal/cli/http"
	"codejudger/internal/cli/state"
	"codejudger/internal/common/mq"
	"codejudger/internal/judge/model"
	"codejudger/internal/judge/repository"
)

// API is the judge-service surface the commands use.
type API interface {
	Submit(ctx context.Context, id string, job *model.Job) (httpclient.Accepted, error)
	Status(ctx context.Context, id string) (model.StatusRecord, error)
	Rejudge(ctx context.Context, id string) (httpclient.Accepted, error)
	Watch(ctx context.Context, id string, fn func(model.StatusRecord) error) error
}

// EventSource tails a topic; mq.KafkaQueue satisfies it.
type EventSource interface {
	Consume(ctx context.Context, topic, group string, handler mq.HandlerFunc) error
}

// RunnerConfig wires a Runner.
type RunnerConfig struct {
	API       API
	Printer   *Printer
	State     *state.State
	StatePath string

	// Events is optional; without it the events command fails.
	Events      EventSource
	EventsTopic string
	EventsGroup string
}

// Runner executes commands for both the one-shot CLI and the REPL.
type Runner struct {
	api         API
	out         *Printer
	state       *state.State
	statePath   string
	events      EventSource
	eventsTopic string
	eventsGroup string
}

func NewRunner(cfg RunnerConfig) *Runner {
	st := cfg.State
	if st == nil {
		st = &state.State{}
	}
	return &Runner{
		api:         cfg.API,
		out:         cfg.Printer,
		state:       st,
		statePath:   cfg.StatePath,
		events:      cfg.Events,
		eventsTopic: cfg.EventsTopic,
		eventsGroup: cfg.EventsGroup,
	}
}

// State exposes the remembered submissions.
func (r *Runner) State() *state.State { return r.state }

// Run executes the named command.
func (r *Runner) Run(ctx context.Context, name string, params Params) error {
	switch name {
	case CmdSubmit:
		return r.submit(ctx, params)
	case CmdStatus:
		id, err := r.resolveID(params)
		if err != nil {
			return err
		}
		rec, err := r.api.Status(ctx, id)
		if err != nil {
			return err
		}
		r.out.Status(rec)
		return nil
	case CmdRejudge:
		id, err := r.resolveID(params)
		if err != nil {
			return err
		}
		acc, err := r.api.Rejudge(ctx, id)
		if err != nil {
			return err
		}
		r.out.Accepted(acc)
		return nil
	case CmdWatch:
		id, err := r.resolveID(params)
		if err != nil {
			return err
		}
		return r.watch(ctx, id)
	case CmdEvents:
		return r.tailEvents(ctx, params.Get("id"))
	case CmdRecent:
		if len(r.state.Recent) == 0 {
			r.out.Line("no submissions yet")
			return nil
		}
		for _, id := range r.state.Recent {
			r.out.Line("%s", id)
		}
		return nil
	}
	return fmt.Errorf("unknown command: %s", name)
}

func (r *Runner) submit(ctx context.Context, params Params) error {
	job, err := BuildJob(params)
	if err != nil {
		return err
	}
	acc, err := r.api.Submit(ctx, params.Get("id"), job)
	if err != nil {
		return err
	}
	r.out.Accepted(acc)
	r.remember(acc.SubmissionID)
	if ParseBool(params.Get("watch")) {
		return r.watch(ctx, acc.SubmissionID)
	}
	return nil
}

func (r *Runner) watch(ctx context.Context, id string) error {
	var last model.StatusRecord
	err := r.api.Watch(ctx, id, func(rec model.StatusRecord) error {
		last = rec
		if !rec.Status.IsTerminal() {
			r.out.Status(rec)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if last.Status.IsTerminal() {
		r.out.Status(last)
	}
	return nil
}

// tailEvents prints final status events until ctx ends. Undecodable events
// are reported and skipped so one bad message does not stall the tail.
func (r *Runner) tailEvents(ctx context.Context, onlyID string) error {
	if r.events == nil {
		return fmt.Errorf("events need kafka brokers, set events.brokers or --brokers")
	}
	return r.events.Consume(ctx, r.eventsTopic, r.eventsGroup, func(ctx context.Context, msg *mq.Message) error {
		ev, err := repository.DecodeStatusEvent(msg)
		if err != nil {
			r.out.Error(err)
			return nil
		}
		if onlyID != "" && ev.Status.SubmissionID != onlyID {
			return nil
		}
		r.out.Event(ev)
		return nil
	})
}

func (r *Runner) resolveID(params Params) (string, error) {
	if id := params.Get("id"); id != "" {
		return id, nil
	}
	if r.state.LastSubmissionID != "" {
		return r.state.LastSubmissionID, nil
	}
	return "", fmt.Errorf("submission id is required")
}

func (r *Runner) remember(id string) {
	r.state.Remember(id)
	if r.statePath == "" {
		return
	}
	if err := state.Save(r.statePath, *r.state); err != nil {
		r.out.Error(err)
	}
}
