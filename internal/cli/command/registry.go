package command

import (
	"encoding/json"
	"fmt"
	"sort"

	"codejudger/internal/judge/model"
)

const (
	CmdSubmit  = "submit"
	CmdStatus  = "status"
	CmdRejudge = "rejudge"
	CmdWatch   = "watch"
	CmdEvents  = "events"
	CmdRecent  = "recent"
)

var idField = Field{Name: "id", Aliases: []string{"submission_id"}, Prompt: "submission_id", Type: FieldString}

// Registry returns all CLI commands keyed by name.
func Registry() map[string]Command {
	commands := []Command{
		{
			Name:  CmdSubmit,
			Usage: "queue a submission for judging",
			Fields: []Field{
				{Name: "language", Aliases: []string{"lang"}, Prompt: "language (python|cpp|java)", Type: FieldString, Required: true},
				{Name: "source_file", Aliases: []string{"file", "src"}, Prompt: "source_file", Type: FieldFile, Required: true},
				{Name: "source_code", Prompt: "source_code", Type: FieldString},
				{Name: "problem_id", Aliases: []string{"problem"}, Prompt: "problem_id", Type: FieldInt64},
				{Name: "cases_file", Aliases: []string{"cases"}, Prompt: "cases_file", Type: FieldFile},
				{Name: "time_limit", Aliases: []string{"time"}, Prompt: "time_limit (s)", Type: FieldFloat},
				{Name: "memory_limit", Aliases: []string{"memory", "mem"}, Prompt: "memory_limit (MB)", Type: FieldInt64},
				{Name: "output_limit", Aliases: []string{"output"}, Prompt: "output_limit (KB)", Type: FieldInt64},
				{Name: "callback_url", Aliases: []string{"callback"}, Prompt: "callback_url", Type: FieldString},
				{Name: "callback_token", Aliases: []string{"token"}, Prompt: "callback_token", Type: FieldString},
				idField,
				{Name: "watch", Prompt: "watch", Type: FieldBool},
			},
		},
		{Name: CmdStatus, Usage: "show the status of a submission", Fields: []Field{idField}, Positional: "id"},
		{Name: CmdRejudge, Usage: "judge a stored submission again", Fields: []Field{idField}, Positional: "id"},
		{Name: CmdWatch, Usage: "follow a submission until it is judged", Fields: []Field{idField}, Positional: "id"},
		{Name: CmdEvents, Usage: "tail final status events from Kafka", Fields: []Field{idField}, Positional: "id"},
		{Name: CmdRecent, Usage: "list submissions made from this machine"},
	}
	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Name] = cmd
	}
	return result
}

// Names returns the registered command names in order.
func Names(commands map[string]Command) []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildJob assembles a submission from submit params. Inline cases come from
// cases_file, a JSON array of {"input", "output"} objects; without it the job
// is judged against the fixtures of problem_id.
func BuildJob(params Params) (*model.Job, error) {
	job := &model.Job{
		Language:      model.Language(params.Get("language")),
		CallbackURL:   params.Get("callback_url"),
		CallbackToken: params.Get("callback_token"),
	}
	if job.Language == "" {
		return nil, fmt.Errorf("language is required")
	}

	source := params.Get("source_code")
	if source == "" && params.Get("source_file") != "" {
		data, err := ReadFile(params.Get("source_file"))
		if err != nil {
			return nil, err
		}
		source = data
	}
	if source == "" {
		return nil, fmt.Errorf("source_code or source_file is required")
	}
	job.SourceCode = source

	if v := params.Get("problem_id"); v != "" {
		id, err := ParseInt64(v)
		if err != nil {
			return nil, fmt.Errorf("invalid problem_id: %w", err)
		}
		job.ProblemID = id
	}
	if path := params.Get("cases_file"); path != "" {
		data, err := ReadFile(path)
		if err != nil {
			return nil, err
		}
		raw, err := ParseJSON(data)
		if err != nil {
			return nil, fmt.Errorf("invalid cases_file: %w", err)
		}
		cases := []model.TestCase{}
		if err := json.Unmarshal(raw, &cases); err != nil {
			return nil, fmt.Errorf("invalid cases_file: %w", err)
		}
		job.TestCases = cases
	}
	if job.ProblemID == 0 && job.TestCases == nil {
		return nil, fmt.Errorf("either problem_id or cases_file is required")
	}

	if v := params.Get("time_limit"); v != "" {
		f, err := ParseFloat(v)
		if err != nil {
			return nil, fmt.Errorf("invalid time_limit: %w", err)
		}
		job.Limitations.MaxTime = f
	}
	if v := params.Get("memory_limit"); v != "" {
		n, err := ParseInt64(v)
		if err != nil {
			return nil, fmt.Errorf("invalid memory_limit: %w", err)
		}
		job.Limitations.MaxMemory = n
	}
	if v := params.Get("output_limit"); v != "" {
		n, err := ParseInt64(v)
		if err != nil {
			return nil, fmt.Errorf("invalid output_limit: %w", err)
		}
		job.Limitations.MaxOutput = n
	}
	return job, nil
}
