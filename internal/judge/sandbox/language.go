package sandbox

import (
	"fmt"
	"sort"

	"codejudger/internal/judge/model"

	"github.com/google/shlex"
)

// Language describes how to build and start programs written in one language.
type Language struct {
	ID         model.Language
	SourceFile string
	CompileCmd []string // nil for interpreted languages
	RunCmd     []string

	// ExtraProcesses is added to the process ceiling at run time.
	ExtraProcesses int
}

// Compiled reports whether the language has a build step.
func (l *Language) Compiled() bool {
	return len(l.CompileCmd) > 0
}

// LanguageConfig overrides command templates for one language.
type LanguageConfig struct {
	SourceFile     string `yaml:"sourceFile"`
	Compile        string `yaml:"compile"`
	Run            string `yaml:"run"`
	ExtraProcesses int    `yaml:"extraProcesses"`
}

var builtinLanguages = map[model.Language]LanguageConfig{
	model.LanguagePython: {
		SourceFile: "main.py",
		Run:        "/usr/bin/python3 main.py",
	},
	model.LanguageCPP: {
		SourceFile: "main.cpp",
		Compile:    "/usr/bin/g++ -O2 -std=c++17 -o main main.cpp",
		Run:        "./main",
	},
	model.LanguageJava: {
		SourceFile:     "Main.java",
		Compile:        "/usr/bin/javac -encoding UTF-8 Main.java",
		Run:            "/usr/bin/java -Xss64m -cp . Main",
		ExtraProcesses: 64,
	},
}

// LanguageSet is an immutable registry of languages.
type LanguageSet struct {
	langs map[model.Language]*Language
}

// NewLanguageSet builds the registry from the built-in table plus overrides.
// Override fields left empty keep the built-in value. Only built-in languages
// can be overridden.
func NewLanguageSet(overrides map[string]LanguageConfig) (*LanguageSet, error) {
	merged := make(map[model.Language]LanguageConfig, len(builtinLanguages))
	for id, cfg := range builtinLanguages {
		merged[id] = cfg
	}
	for id, o := range overrides {
		cfg, ok := merged[model.Language(id)]
		if !ok {
			return nil, fmt.Errorf("language %s: not a supported language", id)
		}
		if o.SourceFile != "" {
			cfg.SourceFile = o.SourceFile
		}
		if o.Compile != "" {
			cfg.Compile = o.Compile
		}
		if o.Run != "" {
			cfg.Run = o.Run
		}
		if o.ExtraProcesses != 0 {
			cfg.ExtraProcesses = o.ExtraProcesses
		}
		merged[model.Language(id)] = cfg
	}

	set := &LanguageSet{langs: make(map[model.Language]*Language, len(merged))}
	for id, cfg := range merged {
		lang, err := buildLanguage(id, cfg)
		if err != nil {
			return nil, err
		}
		set.langs[id] = lang
	}
	return set, nil
}

func buildLanguage(id model.Language, cfg LanguageConfig) (*Language, error) {
	if cfg.SourceFile == "" || cfg.Run == "" {
		return nil, fmt.Errorf("language %s: source file and run command are required", id)
	}
	run, err := shlex.Split(cfg.Run)
	if err != nil {
		return nil, fmt.Errorf("language %s: parse run command: %w", id, err)
	}
	lang := &Language{
		ID:             id,
		SourceFile:     cfg.SourceFile,
		RunCmd:         run,
		ExtraProcesses: cfg.ExtraProcesses,
	}
	if cfg.Compile != "" {
		lang.CompileCmd, err = shlex.Split(cfg.Compile)
		if err != nil {
			return nil, fmt.Errorf("language %s: parse compile command: %w", id, err)
		}
	}
	return lang, nil
}

// Lookup returns the language registered under id.
func (s *LanguageSet) Lookup(id model.Language) (*Language, bool) {
	lang, ok := s.langs[id]
	return lang, ok
}

// IDs lists registered languages in sorted order.
func (s *LanguageSet) IDs() []string {
	out := make([]string, 0, len(s.langs))
	for id := range s.langs {
		out = append(out, string(id))
	}
	sort.Strings(out)
	return out
}
