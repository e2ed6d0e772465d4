package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"conecta/internal/auth"
	"conecta/internal/config"
	"conecta/internal/db"
	"conecta/internal/domain"
	"conecta/internal/migrate"
	"conecta/internal/workflow"
)

type testEnv struct {
	Engine workflow.Engine
	Ctx    context.Context
}

var (
	morador     = domain.Actor{ID: "mor-1", Name: "Maria", Role: "comunidade"}
	aluno       = domain.Actor{ID: "alu-1", Name: "Joao", Role: "estudante"}
	outroAluno  = domain.Actor{ID: "alu-2", Name: "Ana", Role: "estudante"}
	mediador    = domain.Actor{ID: "med-1", Name: "Carlos", Role: "mediador"}
	coordenacao = domain.Actor{ID: "coo-1", Name: "Paula", Role: "coordenacao"}
)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := workflow.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func submitIdea(t *testing.T, env testEnv, actor domain.Actor) domain.Idea {
	t.Helper()
	i, err := env.Engine.SubmitIdea(env.Ctx, actor, workflow.SubmitIdeaOptions{
		Title:       "Iluminacao da praca central",
		Description: "Trocar as lampadas queimadas da praca",
		Category:    "infraestrutura",
	})
	if err != nil {
		t.Fatalf("submit idea: %v", err)
	}
	return i
}

func assignIdea(t *testing.T, env testEnv, ideaID string) (domain.Idea, domain.Project) {
	t.Helper()
	i, err := env.Engine.Triage(env.Ctx, mediador, ideaID, "aprovada", "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	i, p, err := env.Engine.Assign(env.Ctx, coordenacao, i.ID, domain.Assignment{
		Course: "ADS", Class: "2A", Semester: "2026-1", Professor: "Prof. Silva",
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	return i, p
}

func TestSubmitIdeaStartsPending(t *testing.T) {
	env := newTestEnv(t)
	i := submitIdea(t, env, morador)
	if i.Status != "pendente" {
		t.Fatalf("status = %s, want pendente", i.Status)
	}
	if i.Priority != "media" {
		t.Fatalf("priority = %s, want media default", i.Priority)
	}
	got, err := env.Engine.Repo.GetIdea(env.Ctx, i.ID)
	if err != nil {
		t.Fatalf("get idea: %v", err)
	}
	if got.Submitter.Name != "Maria" {
		t.Fatalf("submitter = %q", got.Submitter.Name)
	}
}

func TestSubmitIdeaValidation(t *testing.T) {
	env := newTestEnv(t)
	var vErr workflow.ValidationError
	_, err := env.Engine.SubmitIdea(env.Ctx, morador, workflow.SubmitIdeaOptions{
		Title: "sem descricao", Category: "infraestrutura",
	})
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = env.Engine.SubmitIdea(env.Ctx, morador, workflow.SubmitIdeaOptions{
		Title: "categoria invalida", Description: "x", Category: "nao-existe",
	})
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUnauthorizedTriageLeavesIdeaUntouched(t *testing.T) {
	env := newTestEnv(t)
	i := submitIdea(t, env, morador)
	_, err := env.Engine.Triage(env.Ctx, morador, i.ID, "em_analise", "tentativa")
	var uErr auth.UnauthorizedError
	if !errors.As(err, &uErr) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	got, err := env.Engine.Repo.GetIdea(env.Ctx, i.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "pendente" || got.MediatorNotes != "" {
		t.Fatalf("idea mutated by unauthorized call: %+v", got)
	}
}

func TestTriageTransitions(t *testing.T) {
	env := newTestEnv(t)
	i := submitIdea(t, env, morador)
	i, err := env.Engine.Triage(env.Ctx, mediador, i.ID, "em_analise", "vamos analisar")
	if err != nil || i.Status != "em_analise" {
		t.Fatalf("to em_analise: %v (status %s)", err, i.Status)
	}
	i, err = env.Engine.Triage(env.Ctx, coordenacao, i.ID, "aprovada", "aprovado pela coordenacao")
	if err != nil || i.Status != "aprovada" {
		t.Fatalf("to aprovada: %v (status %s)", err, i.Status)
	}
	// terminal for triage: aprovada only moves on through Assign
	var tErr workflow.InvalidTransitionError
	_, err = env.Engine.Triage(env.Ctx, mediador, i.ID, "rejeitada", "")
	if !errors.As(err, &tErr) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestTriageCannotJumpToAtribuida(t *testing.T) {
	env := newTestEnv(t)
	i := submitIdea(t, env, morador)
	var tErr workflow.InvalidTransitionError
	_, err := env.Engine.Triage(env.Ctx, coordenacao, i.ID, "atribuida", "")
	if !errors.As(err, &tErr) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestNotesAccumulateByRole(t *testing.T) {
	env := newTestEnv(t)
	i := submitIdea(t, env, morador)
	i, err := env.Engine.Triage(env.Ctx, mediador, i.ID, "em_analise", "primeira nota")
	if err != nil {
		t.Fatal(err)
	}
	i, err = env.Engine.Triage(env.Ctx, coordenacao, i.ID, "aprovada", "nota da coordenacao")
	if err != nil {
		t.Fatal(err)
	}
	if i.MediatorNotes != "primeira nota" {
		t.Fatalf("mediator notes = %q", i.MediatorNotes)
	}
	if i.CoordinationNotes != "nota da coordenacao" {
		t.Fatalf("coordination notes = %q", i.CoordinationNotes)
	}
}

func TestAssignValidatesAllFields(t *testing.T) {
	env := newTestEnv(t)
	i := submitIdea(t, env, morador)
	if _, err := env.Engine.Triage(env.Ctx, mediador, i.ID, "aprovada", ""); err != nil {
		t.Fatal(err)
	}
	var vErr workflow.ValidationError
	_, _, err := env.Engine.Assign(env.Ctx, coordenacao, i.ID, domain.Assignment{
		Course: "ADS", Class: "2A", Semester: "2026-1", Professor: "  ",
	})
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	got, _ := env.Engine.Repo.GetIdea(env.Ctx, i.ID)
	if got.Status != "aprovada" || got.Assignment != nil {
		t.Fatalf("idea mutated by invalid assign: %+v", got)
	}
}

func TestAssignRequiresApproval(t *testing.T) {
	env := newTestEnv(t)
	i := submitIdea(t, env, morador)
	var tErr workflow.InvalidTransitionError
	_, _, err := env.Engine.Assign(env.Ctx, coordenacao, i.ID, domain.Assignment{
		Course: "ADS", Class: "2A", Semester: "2026-1", Professor: "Prof. Silva",
	})
	if !errors.As(err, &tErr) {
		t.Fatalf("expected invalid transition for pendente idea, got %v", err)
	}
}

func TestAssignOnlyCoordination(t *testing.T) {
	env := newTestEnv(t)
	i := submitIdea(t, env, morador)
	if _, err := env.Engine.Triage(env.Ctx, mediador, i.ID, "aprovada", ""); err != nil {
		t.Fatal(err)
	}
	var uErr auth.UnauthorizedError
	_, _, err := env.Engine.Assign(env.Ctx, mediador, i.ID, domain.Assignment{
		Course: "ADS", Class: "2A", Semester: "2026-1", Professor: "Prof. Silva",
	})
	if !errors.As(err, &uErr) {
		t.Fatalf("expected unauthorized for mediador assign, got %v", err)
	}
}

func TestAssignCreatesProject(t *testing.T) {
	env := newTestEnv(t)
	idea := submitIdea(t, env, morador)
	idea, p := assignIdea(t, env, idea.ID)
	if idea.Status != "atribuida" {
		t.Fatalf("idea status = %s", idea.Status)
	}
	if idea.Assignment == nil || idea.Assignment.Course != "ADS" {
		t.Fatalf("assignment not stored: %+v", idea.Assignment)
	}
	if p.Status != "em_desenvolvimento" || p.Progress != 0 {
		t.Fatalf("project = %s/%d, want em_desenvolvimento/0", p.Status, p.Progress)
	}
	got, err := env.Engine.Repo.GetProjectByIdea(env.Ctx, idea.ID)
	if err != nil {
		t.Fatalf("project not persisted: %v", err)
	}
	if got.Title != idea.Title {
		t.Fatalf("project title = %q", got.Title)
	}
}

func TestBacklogResetsIdea(t *testing.T) {
	env := newTestEnv(t)
	idea := submitIdea(t, env, morador)
	idea, p := assignIdea(t, env, idea.ID)
	idea, err := env.Engine.ToBacklog(env.Ctx, coordenacao, idea.ID)
	if err != nil {
		t.Fatalf("backlog: %v", err)
	}
	if idea.Status != "pendente" || idea.Assignment != nil {
		t.Fatalf("backlog did not reset: %+v", idea)
	}
	if _, err := env.Engine.Repo.GetProject(env.Ctx, p.ID); err == nil {
		t.Fatalf("project row should be removed")
	}
}

func TestBacklogRejectsRejected(t *testing.T) {
	env := newTestEnv(t)
	i := submitIdea(t, env, morador)
	if _, err := env.Engine.Triage(env.Ctx, mediador, i.ID, "rejeitada", "fora de escopo"); err != nil {
		t.Fatal(err)
	}
	var tErr workflow.InvalidTransitionError
	if _, err := env.Engine.ToBacklog(env.Ctx, coordenacao, i.ID); !errors.As(err, &tErr) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestProgressClamping(t *testing.T) {
	env := newTestEnv(t)
	idea := submitIdea(t, env, morador)
	_, p := assignIdea(t, env, idea.ID)
	p, err := env.Engine.ClaimProject(env.Ctx, aluno, p.ID, domain.Student{Course: "ADS", Semester: "4"})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	p, err = env.Engine.SetProgress(env.Ctx, aluno, p.ID, -10)
	if err != nil || p.Progress != 0 {
		t.Fatalf("progress = %d, want 0 (%v)", p.Progress, err)
	}
	p, err = env.Engine.SetProgress(env.Ctx, aluno, p.ID, 150)
	if err != nil || p.Progress != 100 {
		t.Fatalf("progress = %d, want 100 (%v)", p.Progress, err)
	}
}

func TestOwnershipGate(t *testing.T) {
	env := newTestEnv(t)
	idea := submitIdea(t, env, morador)
	_, p := assignIdea(t, env, idea.ID)
	if _, err := env.Engine.ClaimProject(env.Ctx, aluno, p.ID, domain.Student{}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	var oErr auth.OwnershipError
	if _, err := env.Engine.SetProgress(env.Ctx, outroAluno, p.ID, 50); !errors.As(err, &oErr) {
		t.Fatalf("expected ownership error, got %v", err)
	}
	if _, err := env.Engine.ClaimProject(env.Ctx, outroAluno, p.ID, domain.Student{}); !errors.As(err, &oErr) {
		t.Fatalf("expected ownership error on re-claim, got %v", err)
	}
	// coordination may reassign
	if _, err := env.Engine.ClaimProject(env.Ctx, coordenacao, p.ID, domain.Student{ActorID: outroAluno.ID, Name: outroAluno.Name}); err != nil {
		t.Fatalf("coordination reassign: %v", err)
	}
	if _, err := env.Engine.SetProgress(env.Ctx, outroAluno, p.ID, 50); err != nil {
		t.Fatalf("new owner progress: %v", err)
	}
}

func TestMediatorCannotTouchProject(t *testing.T) {
	env := newTestEnv(t)
	idea := submitIdea(t, env, morador)
	_, p := assignIdea(t, env, idea.ID)
	var uErr auth.UnauthorizedError
	if _, err := env.Engine.SetProgress(env.Ctx, mediador, p.ID, 10); !errors.As(err, &uErr) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := env.Engine.PostUpdate(env.Ctx, mediador, p.ID, "nota"); !errors.As(err, &uErr) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestProjectStatusLifecycle(t *testing.T) {
	env := newTestEnv(t)
	idea := submitIdea(t, env, morador)
	_, p := assignIdea(t, env, idea.ID)
	if _, err := env.Engine.ClaimProject(env.Ctx, aluno, p.ID, domain.Student{}); err != nil {
		t.Fatal(err)
	}
	p, err := env.Engine.SetProjectStatus(env.Ctx, aluno, p.ID, "testando")
	if err != nil || p.Status != "testando" {
		t.Fatalf("to testando: %v", err)
	}
	p, err = env.Engine.SetProjectStatus(env.Ctx, aluno, p.ID, "suspenso")
	if err != nil || p.Status != "suspenso" {
		t.Fatalf("to suspenso: %v", err)
	}
	// suspenso resumes
	p, err = env.Engine.SetProjectStatus(env.Ctx, aluno, p.ID, "em_desenvolvimento")
	if err != nil || p.Status != "em_desenvolvimento" {
		t.Fatalf("resume: %v", err)
	}
	p, err = env.Engine.SetProjectStatus(env.Ctx, aluno, p.ID, "testando")
	if err != nil {
		t.Fatal(err)
	}
	p, err = env.Engine.SetProjectStatus(env.Ctx, aluno, p.ID, "concluido")
	if err != nil || p.Status != "concluido" {
		t.Fatalf("to concluido: %v", err)
	}
	if p.Progress != 100 {
		t.Fatalf("concluido should pin progress at 100, got %d", p.Progress)
	}
	var tErr workflow.InvalidTransitionError
	if _, err := env.Engine.SetProjectStatus(env.Ctx, aluno, p.ID, "em_desenvolvimento"); !errors.As(err, &tErr) {
		t.Fatalf("concluido should be terminal, got %v", err)
	}
}

func TestPostUpdateNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	idea := submitIdea(t, env, morador)
	_, p := assignIdea(t, env, idea.ID)
	if _, err := env.Engine.ClaimProject(env.Ctx, aluno, p.ID, domain.Student{}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.PostUpdate(env.Ctx, aluno, p.ID, "levantamento feito"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.PostUpdate(env.Ctx, aluno, p.ID, "prototipo pronto"); err != nil {
		t.Fatal(err)
	}
	updates, err := env.Engine.Repo.ListProjectUpdates(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(updates) != 2 {
		t.Fatalf("updates = %d, want 2", len(updates))
	}
	if updates[0].Message != "prototipo pronto" {
		t.Fatalf("newest first broken: %q", updates[0].Message)
	}
}

func TestEndToEndLifecycle(t *testing.T) {
	env := newTestEnv(t)
	i := submitIdea(t, env, morador)
	for _, step := range []struct {
		actor  domain.Actor
		target string
	}{
		{mediador, "em_analise"},
		{coordenacao, "aprovada"},
	} {
		var err error
		i, err = env.Engine.Triage(env.Ctx, step.actor, i.ID, step.target, "")
		if err != nil {
			t.Fatalf("triage to %s: %v", step.target, err)
		}
	}
	i, p, err := env.Engine.Assign(env.Ctx, coordenacao, i.ID, domain.Assignment{
		Course: "ADS", Class: "2A", Semester: "2026-1", Professor: "Prof. Silva",
	})
	if err != nil {
		t.Fatal(err)
	}
	if i.Status != "atribuida" || p.Status != "em_desenvolvimento" {
		t.Fatalf("lifecycle end state: idea=%s project=%s", i.Status, p.Status)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "", "idea", i.ID)
	if err != nil {
		t.Fatal(err)
	}
	// submitted + two triage steps + assigned
	if len(evts) != 4 {
		t.Fatalf("idea events = %d, want 4", len(evts))
	}
}
