package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"crewforge/internal/agent"
	"crewforge/internal/config"
	"crewforge/internal/console"
	"crewforge/internal/domain"
	"crewforge/internal/fs"
	"crewforge/internal/llm"
	"crewforge/internal/orchestrator"
	"crewforge/internal/policy"
	"crewforge/internal/probe"
	"crewforge/internal/taskrequest"
	"crewforge/internal/toolchain"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [request...]",
		Short: "Turn a website request into a built and smoke-tested web server",
		Long: `Run asks the project manager to turn the request into a project description,
then drives the solution architect and the backend developer over it. Without
arguments the request is read from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			creds, err := config.LoadCredentials(opts.envFile)
			if err != nil {
				return err
			}
			logger := opts.logger(cmd)
			source := cfg.Path
			if source == "" {
				source = "(defaults)"
			}
			logger.Printf("run starting config=%s model=%s project_root=%s", source, cfg.Model, cfg.Project.Root)
			con := console.New(cmd.InOrStdin(), cmd.OutOrStdout())

			request := strings.TrimSpace(strings.Join(args, " "))
			if request == "" {
				request, err = con.Ask("What website are we building today?")
				if err != nil {
					return err
				}
			}

			store, err := openStore(ctx, cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() {
				_ = store.Close()
			}()

			completer, err := llm.NewOpenAI(llm.OpenAIConfig{
				APIKey:       creds.APIKey,
				Organization: creds.Organization,
				BaseURL:      cfg.BaseURL,
				Model:        cfg.Model,
				Temperature:  cfg.Temperature,
				Logger:       logger,
			})
			if err != nil {
				return err
			}

			rules, err := policyRules(cfg.Policy.Rules)
			if err != nil {
				return err
			}
			engine, err := policy.New(rules)
			if err != nil {
				return err
			}
			files, err := fs.NewGateway(cfg.Project.Root, engine, store)
			if err != nil {
				return err
			}
			tools, err := toolchain.New(toolchain.Config{
				Dir:          files.Root(),
				BuildCommand: cfg.Toolchain.BuildCommand,
				RunCommand:   cfg.Toolchain.RunCommand,
				Logger:       logger,
			})
			if err != nil {
				return err
			}
			checker := probe.New(cfg.URLTimeout())

			manager, err := orchestrator.New(ctx, request, orchestrator.Deps{
				Requests: taskrequest.New(completer, con, logger),
				Store:    store,
				Architect: agent.ArchitectConfig{
					Checker:  checker,
					Reporter: con,
				},
				Backend: agent.BackendConfig{
					Files:         files,
					Toolchain:     tools,
					Confirmer:     con,
					Checker:       checker,
					Reporter:      con,
					TemplatePath:  cfg.Project.TemplatePath,
					SourcePath:    cfg.Project.SourcePath,
					SchemaPath:    cfg.Project.SchemaPath,
					ServerAddr:    cfg.Testing.ServerAddr,
					SettleDelay:   cfg.SettleDelay(),
					MaxBugRetries: cfg.Testing.MaxBugRetries,
				},
				ContinueOnAgentError: cfg.ContinueOnAgentError,
				Logger:               logger,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "run %s\n", manager.RunID())

			runErr := manager.ExecuteProject(ctx)
			if err := printFactSheet(cmd, manager.FactSheet()); err != nil {
				return err
			}
			if runErr != nil {
				return fmt.Errorf("run %s: %w", manager.RunID(), runErr)
			}
			return nil
		},
	}
	return cmd
}

func policyRules(in []config.PolicyRule) ([]policy.Rule, error) {
	out := make([]policy.Rule, 0, len(in))
	for _, r := range in {
		op := domain.FileOperation(strings.ToLower(strings.TrimSpace(r.Operation)))
		switch op {
		case domain.FileOperationRead, domain.FileOperationWrite, domain.FileOperationCreate:
		default:
			return nil, fmt.Errorf("policy rule for %s: unknown operation %q", r.Agent, r.Operation)
		}
		out = append(out, policy.Rule{Agent: r.Agent, Operation: op, Pattern: r.Pattern})
	}
	return out, nil
}

func printFactSheet(cmd *cobra.Command, sheet *domain.FactSheet) error {
	raw, err := json.MarshalIndent(sheet, "", "  ")
	if err != nil {
		return fmt.Errorf("encode fact sheet: %w", err)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(raw))
	return nil
}
