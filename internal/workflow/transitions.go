package workflow

import "fmt"

// InvalidTransitionError indicates a status change the lifecycle does not
// allow. The record is left untouched.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s status transition %s -> %s", e.Entity, e.From, e.To)
}

// ValidationError indicates rejected input. The record is left untouched.
type ValidationError struct {
	Field string
	Msg   string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// ensureIdeaTransition enforces the idea lifecycle. Triage moves ideas
// forward one step at a time; aprovada -> atribuida only happens through
// Assign. rejeitada and atribuida are terminal here (ToBacklog is the
// explicit escape hatch).
func ensureIdeaTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case "pendente":
		if newStatus == "em_analise" || newStatus == "aprovada" || newStatus == "rejeitada" {
			return nil
		}
	case "em_analise":
		if newStatus == "aprovada" || newStatus == "rejeitada" {
			return nil
		}
	case "aprovada":
		if newStatus == "atribuida" {
			return nil
		}
	}
	return InvalidTransitionError{Entity: "idea", From: oldStatus, To: newStatus}
}

// ensureProjectTransition enforces the project lifecycle. suspenso resumes
// back to em_desenvolvimento; concluido is terminal.
func ensureProjectTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case "em_desenvolvimento":
		if newStatus == "testando" || newStatus == "suspenso" {
			return nil
		}
	case "testando":
		if newStatus == "concluido" || newStatus == "suspenso" {
			return nil
		}
	case "suspenso":
		if newStatus == "em_desenvolvimento" {
			return nil
		}
	}
	return InvalidTransitionError{Entity: "project", From: oldStatus, To: newStatus}
}
