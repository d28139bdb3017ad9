package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/floegence/imagent/internal/ai"
	"github.com/floegence/imagent/internal/ai/providers"
	aitools "github.com/floegence/imagent/internal/ai/tools"
	"github.com/floegence/imagent/internal/config"
	"github.com/floegence/imagent/internal/lockfile"
	"github.com/floegence/imagent/internal/pipeline"
	"github.com/floegence/imagent/internal/records"
	"github.com/floegence/imagent/internal/runlog"
	"github.com/floegence/imagent/internal/transcript"
	"github.com/floegence/imagent/internal/vision"
	"github.com/floegence/imagent/internal/websearch"
)

const systemPrompt = "You process one image per task by calling the available tools. " +
	"Call tools one stage at a time, pass the exact image path you were given, and save the record you extracted " +
	"with the category returned by classification. When every stage is done, reply with a short summary and no tool calls."

// runtime is the fully wired engine plus the resources a run command must release.
type runtime struct {
	engine    *ai.Engine
	processor *pipeline.Processor
	records   *records.Store
	runs      *runlog.Store
	lock      *lockfile.Lock
}

func (r *runtime) Close() error {
	var errs []error
	if r.records != nil {
		errs = append(errs, r.records.Close())
	}
	if r.lock != nil {
		errs = append(errs, r.lock.Release())
	}
	return errors.Join(errs...)
}

type runtimeOptions struct {
	// Out receives the live transcript; nil disables it.
	Out         io.Writer
	Routes      bool
	Concurrency int
	// Provider replaces the configured reasoning and vision models.
	Provider ai.Provider
	Search   *websearch.Client
}

func (a *app) buildRuntime(opts runtimeOptions) (_ *runtime, err error) {
	cfg := a.cfg
	rt := &runtime{}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	if rt.lock, err = lockfile.AcquireDir(cfg.StateDir); err != nil {
		return nil, fmt.Errorf("state dir %s: %w", cfg.StateDir, err)
	}

	llmProfile, err := cfg.ActiveLLM()
	if err != nil {
		return nil, err
	}
	vlmProfile, err := cfg.ActiveVLM()
	if err != nil {
		return nil, err
	}
	llm, vlm := opts.Provider, opts.Provider
	if llm == nil {
		if llm, err = a.provider(llmProfile); err != nil {
			return nil, fmt.Errorf("llm %s: %w", cfg.ActiveModels.LLM, err)
		}
		if vlm, err = a.provider(vlmProfile); err != nil {
			return nil, fmt.Errorf("vlm %s: %w", cfg.ActiveModels.VLM, err)
		}
	}

	cats, err := categories(cfg)
	if err != nil {
		return nil, err
	}
	analyzer, err := vision.New(vision.Options{
		Provider:        vlm,
		Model:           vlmProfile.ModelName,
		Categories:      cats,
		BasePrompt:      cfg.Extraction.BasePrompt,
		EmptySentinels:  cfg.Extraction.EmptySentinels,
		MaxOutputTokens: vlmProfile.MaxOutputTokens,
		Temperature:     vlmProfile.Temperature,
		Logger:          a.log.With("component", "vision"),
	})
	if err != nil {
		return nil, err
	}

	rt.records, err = records.Open(records.Options{
		Path:         cfg.Database.Path,
		Tables:       cfg.Tables(),
		DefaultTable: cfg.Database.DefaultTable,
		Logger:       a.log.With("component", "records"),
	})
	if err != nil {
		return nil, err
	}

	search := opts.Search
	if search == nil && cfg.Search.Provider != websearch.ProviderDisabled {
		if search, err = a.searchClient(); err != nil {
			return nil, err
		}
	}

	tools := append(analyzer.Tools(), rt.records.SaveTool())
	rules := []ai.IncompleteRecordRule{}
	if search != nil {
		tools = append(tools, search.Tool())
		rules = vision.IncompleteRules(cats, websearch.ToolName)
	}
	catalog, err := aitools.NewCatalog(tools...)
	if err != nil {
		return nil, err
	}

	escalation, err := ai.ParseEscalation(cfg.Engine.Escalation)
	if err != nil {
		return nil, err
	}
	if rt.runs, err = runlog.New(runlog.Options{Logger: a.log.With("component", "runlog"), StateDir: cfg.StateDir}); err != nil {
		return nil, err
	}
	observers := ai.MultiObserver{rt.runs}
	if opts.Out != nil {
		observers = append(observers, transcript.New(opts.Out, transcript.Options{Routes: opts.Routes}))
	}

	rt.engine, err = ai.NewEngine(ai.Config{
		Provider:   llm,
		Model:      llmProfile.ModelName,
		System:     systemPrompt,
		Catalog:    catalog,
		Escalation: escalation,
		Reflection: ai.ReflectionConfig{
			Disabled:       !cfg.Engine.ReflectionEnabled(),
			Rules:          rules,
			EmptySentinels: cfg.Extraction.EmptySentinels,
		},
		MaxSteps:        cfg.Engine.MaxSteps,
		MaxOutputTokens: llmProfile.MaxOutputTokens,
		Temperature:     llmProfile.Temperature,
		Logger:          a.log.With("component", "engine"),
		Observer:        observers,
	})
	if err != nil {
		return nil, err
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = cfg.Engine.Concurrency
	}
	rt.processor, err = pipeline.New(pipeline.Options{
		Runner:      rt.engine,
		Extensions:  cfg.Images.Extensions,
		Concurrency: concurrency,
		WithSearch:  search != nil,
		Logger:      a.log.With("component", "pipeline"),
	})
	if err != nil {
		return nil, err
	}
	return rt, nil
}

func (a *app) provider(p config.ModelProfile) (ai.Provider, error) {
	key, err := a.keys().Resolve(p.APIKeyName)
	if err != nil {
		return nil, err
	}
	return providers.New(p.Provider, p.APIBaseURL, key)
}

func (a *app) searchClient() (*websearch.Client, error) {
	s := a.cfg.Search
	keys := a.keys()
	key, err := keys.Resolve(s.APIKeyName)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	var engineID string
	if s.Provider == websearch.ProviderGoogle {
		if engineID, err = keys.Resolve(s.EngineIDName); err != nil {
			return nil, fmt.Errorf("search: %w", err)
		}
	}
	return websearch.New(websearch.Options{
		Provider:    s.Provider,
		APIKey:      key,
		EngineID:    engineID,
		Endpoint:    s.Endpoint,
		SiteFilters: s.SiteFilters,
		Count:       s.Count,
		Logger:      a.log.With("component", "websearch"),
	})
}

func categories(cfg *config.Config) (*vision.Categories, error) {
	list := make([]vision.Category, 0, len(cfg.Categories))
	for _, c := range cfg.Categories {
		fields := make([]vision.Field, 0, len(c.Fields))
		for _, f := range c.Fields {
			fields = append(fields, vision.Field{
				Name:        f.Name,
				Description: f.Description,
				Required:    f.Required,
				Identity:    f.Identity,
				Descriptive: f.Descriptive,
			})
		}
		list = append(list, vision.Category{
			Name:        c.Name,
			Description: c.Description,
			Instruction: c.Instruction,
			Fields:      fields,
		})
	}
	return vision.NewCategories(list)
}

func (a *app) reminderOptions() records.ReminderOptions {
	r := a.cfg.Reminders
	return records.ReminderOptions{
		Table:       r.Table,
		NameColumn:  r.NameColumn,
		DateColumn:  r.DateColumn,
		WindowDays:  r.WindowDays,
		DateLayouts: r.DateLayouts,
	}
}
