package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"conecta/internal/auth"
	"conecta/internal/config"
	"conecta/internal/db"
	"conecta/internal/domain"
	"conecta/internal/migrate"
	"conecta/internal/repo"
	"conecta/internal/server"
	"conecta/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "conecta",
	Short: "Fatec Conecta CLI",
	Long: `Fatec Conecta links community ideas to student projects.
How it flows:
- Community members submit ideas (title, description, category, priority).
- Mediators triage: pendente -> em_analise -> aprovada or rejeitada.
- Coordination assigns approved ideas to a course/class, which creates a project.
- Students claim a project, post progress updates, and move it through
  em_desenvolvimento -> testando -> concluido (or suspenso and back).
- Everything lands in the event log; view it with 'conecta log tail'.
Roles are fixed (comunidade, estudante, mediador, coordenacao) and every
operation checks the acting role's capabilities before touching the database.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CONECTA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "acting actor identifier")
	rootCmd.PersistentFlags().String("actor-name", "", "acting actor display name")
	rootCmd.PersistentFlags().String("actor-role", "", "acting actor role (comunidade, estudante, mediador, coordenacao)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("actor-name", rootCmd.PersistentFlags().Lookup("actor-name"))
	_ = viper.BindPFlag("actor-role", rootCmd.PersistentFlags().Lookup("actor-role"))
}

func registerCommands() {
	rootCmd.AddCommand(ideaCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func ideaCmd() *cobra.Command {
	idea := &cobra.Command{
		Use:   "idea",
		Short: "Manage community ideas",
		Long:  "Ideas are community proposals. They flow pendente -> em_analise -> aprovada/rejeitada, and an approved idea becomes a project when coordination assigns it.",
	}
	idea.AddCommand(ideaSubmitCmd())
	idea.AddCommand(ideaListCmd())
	idea.AddCommand(ideaShowCmd())
	idea.AddCommand(ideaTriageCmd())
	idea.AddCommand(ideaAssignCmd())
	idea.AddCommand(ideaBacklogCmd())
	return idea
}

func ideaSubmitCmd() *cobra.Command {
	var opts workflow.SubmitIdeaOptions
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit an idea",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				actor, err := resolveActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				i, err := e.SubmitIdea(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printJSONOrIndent(i)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "idea title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "idea description")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category id from the catalog")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority (defaults to media)")
	cmd.Flags().StringVar(&opts.Submitter.Name, "submitter-name", "", "submitter name (defaults to actor name)")
	cmd.Flags().StringVar(&opts.Submitter.Email, "submitter-email", "", "submitter email")
	cmd.Flags().StringVar(&opts.Submitter.Phone, "submitter-phone", "", "submitter phone")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("description")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func ideaListCmd() *cobra.Command {
	var f repo.IdeaFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ideas",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				if f.PageSize == 0 {
					f.PageSize = e.Config.PageSize()
				}
				ideas, total, err := e.Repo.ListIdeas(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"items": ideas, "total": total})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Category", "Priority", "Status", "Submitter"})
				for _, i := range ideas {
					tw.AppendRow(table.Row{i.ID, i.Title, i.Category, i.Priority, statusColor(i.Status), i.Submitter.Name})
				}
				tw.Render()
				fmt.Printf("%d of %d\n", len(ideas), total)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Category, "category", "", "category filter")
	cmd.Flags().StringVar(&f.Priority, "priority", "", "priority filter")
	cmd.Flags().StringVar(&f.Search, "search", "", "search in title, description and submitter")
	cmd.Flags().IntVar(&f.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&f.PageSize, "page-size", 0, "items per page (0 uses config default)")
	return cmd
}

func ideaShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an idea",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				i, err := e.Repo.GetIdea(ctx, id)
				if err != nil {
					return err
				}
				out := map[string]any{"idea": i}
				if p, err := e.Repo.GetProjectByIdea(ctx, id); err == nil {
					out["project"] = p
				}
				return printJSONOrIndent(out)
			})
		},
	}
	return cmd
}

func ideaTriageCmd() *cobra.Command {
	var target, notes string
	cmd := &cobra.Command{
		Use:   "triage <id>",
		Short: "Move an idea to em_analise, aprovada or rejeitada",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				actor, err := resolveActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				i, err := e.Triage(ctx, actor, id, target, notes)
				if err != nil {
					return err
				}
				return printJSONOrIndent(i)
			})
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "target status (em_analise, aprovada, rejeitada)")
	cmd.Flags().StringVar(&notes, "notes", "", "triage notes appended to the idea")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func ideaAssignCmd() *cobra.Command {
	var a domain.Assignment
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Assign an approved idea to a course and class",
		Long:  "Assignment requires all four fields and creates the project in em_desenvolvimento.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				actor, err := resolveActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				i, p, err := e.Assign(ctx, actor, id, a)
				if err != nil {
					return err
				}
				return printJSONOrIndent(map[string]any{"idea": i, "project": p})
			})
		},
	}
	cmd.Flags().StringVar(&a.Course, "course", "", "course name")
	cmd.Flags().StringVar(&a.Class, "class", "", "class identifier")
	cmd.Flags().StringVar(&a.Semester, "semester", "", "semester, e.g. 2026-2")
	cmd.Flags().StringVar(&a.Professor, "professor", "", "responsible professor")
	_ = cmd.MarkFlagRequired("course")
	_ = cmd.MarkFlagRequired("class")
	_ = cmd.MarkFlagRequired("semester")
	_ = cmd.MarkFlagRequired("professor")
	return cmd
}

func ideaBacklogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backlog <id>",
		Short: "Return an idea to the backlog (pendente)",
		Long:  "Clears the assignment and removes the linked project. Rejected ideas stay rejected.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				actor, err := resolveActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				i, err := e.ToBacklog(ctx, actor, id)
				if err != nil {
					return err
				}
				return printJSONOrIndent(i)
			})
		},
	}
	return cmd
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{
		Use:   "project",
		Short: "Manage student projects",
		Long:  "Projects are born from assigned ideas and flow em_desenvolvimento -> testando -> concluido, with suspenso as a resumable pause.",
	}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectClaimCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectProgressCmd())
	prj.AddCommand(projectStatusCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	var f repo.ProjectFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				if f.PageSize == 0 {
					f.PageSize = e.Config.PageSize()
				}
				projects, total, err := e.Repo.ListProjects(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"items": projects, "total": total})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Category", "Status", "Progress", "Student"})
				for _, p := range projects {
					student := ""
					if p.Student != nil {
						student = p.Student.Name
					}
					tw.AppendRow(table.Row{p.ID, p.Title, p.Category, statusColor(p.Status), fmt.Sprintf("%d%%", p.Progress), student})
				}
				tw.Render()
				fmt.Printf("%d of %d\n", len(projects), total)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&f.Statuses, "status", []string{}, "status filter (repeatable)")
	cmd.Flags().StringVar(&f.Category, "category", "", "category filter")
	cmd.Flags().StringVar(&f.Priority, "priority", "", "priority filter")
	cmd.Flags().StringVar(&f.Search, "search", "", "search in title, description and student")
	cmd.Flags().IntVar(&f.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&f.PageSize, "page-size", 0, "items per page (0 uses config default)")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project with its updates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				p, err := e.Repo.GetProject(ctx, id)
				if err != nil {
					return err
				}
				updates, err := e.Repo.ListProjectUpdates(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrIndent(map[string]any{"project": p, "updates": updates})
			})
		},
	}
	return cmd
}

func projectClaimCmd() *cobra.Command {
	var s domain.Student
	cmd := &cobra.Command{
		Use:   "claim <id>",
		Short: "Claim a project as its student",
		Long:  "A student claims an unowned project. Coordination can claim on behalf of a student with --student-actor-id.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				actor, err := resolveActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				p, err := e.ClaimProject(ctx, actor, id, s)
				if err != nil {
					return err
				}
				return printJSONOrIndent(p)
			})
		},
	}
	cmd.Flags().StringVar(&s.ActorID, "student-actor-id", "", "student actor id (coordination only)")
	cmd.Flags().StringVar(&s.Name, "student-name", "", "student display name")
	cmd.Flags().StringVar(&s.Course, "course", "", "student course")
	cmd.Flags().StringVar(&s.Semester, "semester", "", "student semester")
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Post a progress update",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				actor, err := resolveActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				u, err := e.PostUpdate(ctx, actor, id, message)
				if err != nil {
					return err
				}
				return printJSONOrIndent(u)
			})
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "update text")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func projectProgressCmd() *cobra.Command {
	var value int
	cmd := &cobra.Command{
		Use:   "progress <id>",
		Short: "Set project progress (0-100)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				actor, err := resolveActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				p, err := e.SetProgress(ctx, actor, id, value)
				if err != nil {
					return err
				}
				return printJSONOrIndent(p)
			})
		},
	}
	cmd.Flags().IntVar(&value, "value", 0, "progress percentage")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func projectStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Update project status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e workflow.Engine) error {
				actor, err := resolveActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				p, err := e.SetProjectStatus(ctx, actor, id, status)
				if err != nil {
					return err
				}
				return printJSONOrIndent(p)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status (em_desenvolvimento, testando, concluido, suspenso)")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func actorCmd() *cobra.Command {
	actor := &cobra.Command{
		Use:   "actor",
		Short: "Manage registered actors",
		Long:  "Actors are the people behind ideas and projects. API-key callers must be registered here; JWT callers carry name and role in the token.",
	}
	actor.AddCommand(actorAddCmd())
	actor.AddCommand(actorListCmd())
	actor.AddCommand(actorRemoveCmd())
	return actor
}

func actorAddCmd() *cobra.Command {
	var a domain.Actor
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register or update an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if auth.ParseRole(a.Role) == "" {
				return fmt.Errorf("--role must be one of %v", auth.Roles())
			}
			a.Role = string(auth.ParseRole(a.Role))
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				now := time.Now().UTC().Format(time.RFC3339)
				if err := r.UpsertActor(ctx, nil, a, now); err != nil {
					return err
				}
				stored, err := r.GetActor(ctx, a.ID)
				if err != nil {
					return err
				}
				return printJSONOrIndent(stored)
			})
		},
	}
	cmd.Flags().StringVar(&a.ID, "id", "", "actor id")
	cmd.Flags().StringVar(&a.Name, "name", "", "display name")
	cmd.Flags().StringVar(&a.Email, "email", "", "email")
	cmd.Flags().StringVar(&a.Role, "role", "", "role (comunidade, estudante, mediador, coordenacao)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func actorListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				actors, err := r.ListActors(ctx, role)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(actors)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Email", "Role"})
				for _, a := range actors {
					tw.AppendRow(table.Row{a.ID, a.Name, a.Email, a.Role})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	return cmd
}

func actorRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove an actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteActor(ctx, args[0])
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
		Long:  "API keys authenticate non-interactive callers via the X-Api-Key header. Only the SHA-256 hash is stored; the key itself is printed once on creation.",
	}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyRevokeCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for a registered actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetActor(ctx, actorID); err != nil {
					if errors.Is(err, repo.ErrNotFound) {
						return fmt.Errorf("actor %s not registered; run conecta actor add first", actorID)
					}
					return err
				}
				raw, err := newAPIKeyValue()
				if err != nil {
					return err
				}
				record := domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: actorID,
					Name:    name,
					KeyHash: repo.HashAPIKey(raw),
				}
				if err := r.InsertAPIKey(ctx, nil, record); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": record.ID, "actor_id": actorID, "key": raw})
				}
				fmt.Printf("API key %s created for %s\n", record.ID, actorID)
				fmt.Printf("Key (shown once): %s\n", raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id the key acts as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor filter")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect portal config",
		Long:  "Config is conecta.yml in the workspace: portal identity, category catalog, priorities, tracker defaults and webhooks.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configImportCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default conecta.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrIndent(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a YAML config into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			if err := os.WriteFile(config.Path(viper.GetString("workspace")), data, 0o644); err != nil {
				return err
			}
			return printJSONOrIndent(cfg)
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: submissions, triage decisions, assignments, claims, updates and status changes.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrIndent(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind (idea, project)")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var rateLimit float64
	var rateBurst int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			e := workflow.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("CONECTA_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("CONECTA_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:    e,
				BasePath:  basePath,
				Auth:      authCfg,
				RateLimit: rate.Limit(rateLimit),
				RateBurst: rateBurst,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Fatec Conecta API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().Float64Var(&rateLimit, "rate-limit", 0, "mutations per second per client (0 disables)")
	cmd.Flags().IntVar(&rateBurst, "rate-burst", 0, "rate limit burst")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, workflow.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	return fn(ctx, workflow.New(conn, cfg))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

// resolveActor builds the acting identity from flags. Without --actor-role
// the actor must be registered, matching how API-key callers are resolved.
func resolveActor(ctx context.Context, r repo.Repo) (domain.Actor, error) {
	id := strings.TrimSpace(viper.GetString("actor-id"))
	name := strings.TrimSpace(viper.GetString("actor-name"))
	role := strings.TrimSpace(viper.GetString("actor-role"))
	if role != "" {
		parsed := auth.ParseRole(role)
		if parsed == "" {
			return domain.Actor{}, fmt.Errorf("unknown role %q; valid roles: %v", role, auth.Roles())
		}
		return domain.Actor{ID: id, Name: name, Role: string(parsed)}, nil
	}
	a, err := r.GetActor(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Actor{}, fmt.Errorf("actor %s not registered; use --actor-role or conecta actor add", id)
	}
	if err != nil {
		return domain.Actor{}, err
	}
	return a, nil
}

func newAPIKeyValue() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "ck_" + hex.EncodeToString(buf), nil
}

var (
	statusGreen  = color.New(color.FgHiGreen).SprintFunc()
	statusYellow = color.New(color.FgHiYellow).SprintFunc()
	statusCyan   = color.New(color.FgHiCyan).SprintFunc()
	statusRed    = color.New(color.FgHiRed).SprintFunc()
)

func statusColor(status string) string {
	switch status {
	case "aprovada", "concluido":
		return statusGreen(status)
	case "pendente", "em_desenvolvimento":
		return statusYellow(status)
	case "em_analise", "testando", "atribuida":
		return statusCyan(status)
	case "rejeitada", "suspenso":
		return statusRed(status)
	default:
		return status
	}
}

func printJSONOrIndent(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
