// memoctl drives the research memo workflow engine from the command line,
// talking straight to the run store and collaborators configured in
// config.yaml.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"lexmemo/backend/internal/audit"
	"lexmemo/backend/internal/config"
	"lexmemo/backend/internal/engine"
	"lexmemo/backend/internal/logging"
	"lexmemo/backend/internal/registry"
	"lexmemo/backend/internal/repository"
	"lexmemo/backend/internal/services"
	"lexmemo/backend/pkg/models"
)

type app struct {
	cfg    *config.Config
	logger *logging.Logger
	pool   *pgxpool.Pool
	store  *repository.PostgresRunStore
	engine *engine.Engine
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{logger: logging.NewLogger()}

	root := &cobra.Command{
		Use:           "memoctl",
		Short:         "Run and inspect litigation research memo workflows",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.pool != nil {
				a.pool.Close()
			}
		},
	}

	root.AddCommand(
		newRunCmd(a),
		newStatusCmd(a),
		newResumeCmd(a),
		newExportCmd(a),
		newSeedCmd(a),
	)
	return root
}

func (a *app) init(ctx context.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.cfg = cfg

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	a.pool = pool
	a.store = repository.NewPostgresRunStore(pool, a.logger)

	reg := registry.New()
	if err := reg.Register(engine.ResearchMemoWorkflow()); err != nil {
		return err
	}
	reg.Freeze()

	retriever := services.NewHTTPRetriever(cfg.Retriever.URL, cfg.Retriever.Timeout)
	generator := services.NewHTTPGenerator(cfg.Generator.URL, cfg.Generator.Timeout)
	a.engine = engine.New(a.store, reg, retriever, generator, a.logger, engine.Options{
		GroundingTopK:  cfg.Engine.GroundingTopK,
		CaseLawTopK:    cfg.Engine.CaseLawTopK,
		ValidationTopK: cfg.Engine.ValidationTopK,
	})
	return nil
}

func newRunCmd(a *app) *cobra.Command {
	var matterID, workflowID, intakeFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create a run and execute it until it completes, fails, or parks for review",
		RunE: func(cmd *cobra.Command, args []string) error {
			intake, err := readIntake(intakeFile)
			if err != nil {
				return err
			}

			run, err := a.engine.StartRun(cmd.Context(), matterID, workflowID, intake)
			if err != nil {
				return err
			}
			fmt.Printf("run %s created\n", run.ID)

			run, err = a.engine.RunAll(cmd.Context(), run.ID)
			if err != nil {
				return err
			}
			printRun(run)
			return nil
		},
	}

	cmd.Flags().StringVar(&matterID, "matter", "", "matter the run belongs to")
	cmd.Flags().StringVar(&workflowID, "workflow", engine.ResearchMemoWorkflowID, "workflow definition id")
	cmd.Flags().StringVar(&intakeFile, "intake", "", "path to a JSON intake file (- for stdin)")
	cmd.MarkFlagRequired("matter")
	cmd.MarkFlagRequired("intake")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show a run's status and phase history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := a.store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printRun(run)
			return nil
		},
	}
}

func newResumeCmd(a *app) *cobra.Command {
	var decision, notes string

	cmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Supply reviewer input to a parked run and continue it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := map[string]interface{}{
				"decision": decision,
				"notes":    notes,
			}
			if _, err := a.engine.Resume(cmd.Context(), args[0], input); err != nil {
				return err
			}
			run, err := a.engine.RunAll(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printRun(run)
			return nil
		},
	}

	cmd.Flags().StringVar(&decision, "decision", "approved", "reviewer decision")
	cmd.Flags().StringVar(&notes, "notes", "", "reviewer notes")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var format, outFile string

	cmd := &cobra.Command{
		Use:   "export <run-id>",
		Short: "Export a run's audit bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := a.store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			bundle, err := audit.FromRun(run, engine.AuditArtifactNames())
			if err != nil {
				return err
			}

			var out []byte
			switch format {
			case "json":
				out, err = audit.RenderJSON(bundle)
				if err != nil {
					return err
				}
			case "markdown":
				out = []byte(audit.RenderMarkdown(bundle))
			default:
				return fmt.Errorf("unknown format %q (want markdown or json)", format)
			}

			if outFile == "" {
				_, err = os.Stdout.Write(out)
				return err
			}
			return os.WriteFile(outFile, out, 0o644)
		},
	}

	cmd.Flags().StringVar(&format, "format", "markdown", "export format: markdown or json")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "write to file instead of stdout")
	return cmd
}

func newSeedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("schema ready")
			return nil
		},
	}
}

func readIntake(path string) (map[string]interface{}, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read intake: %w", err)
	}

	var intake map[string]interface{}
	if err := json.Unmarshal(data, &intake); err != nil {
		return nil, fmt.Errorf("failed to parse intake JSON: %w", err)
	}
	return intake, nil
}

func printRun(run *models.WorkflowRun) {
	fmt.Printf("run %s [%s] phase %d/%s\n", run.ID, run.Status, run.CurrentPhase, run.DefinitionID)
	for _, r := range run.Results {
		fmt.Printf("  %2d %-22s %s", r.PhaseIndex, r.PhaseName, r.Status)
		if len(r.Errors) > 0 {
			fmt.Printf("  (%s)", r.Errors[0])
		}
		fmt.Println()
	}
	if run.Error != "" {
		fmt.Printf("error: %s\n", run.Error)
	}
	if run.CorrectionPlan != nil {
		fmt.Println(run.CorrectionPlan.Summary)
	}
}
