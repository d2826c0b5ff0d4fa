// Package dryrun provides deterministic fakes of the internal/collaborator
// interfaces other than DecisionSink, with no external side effects. Tests
// use them, and internal/app wires them as the process's collaborators.
package dryrun

import (
	"context"
	"fmt"

	"github.com/ShadewG/autobot-engine/internal/collaborator"
)

// Classifier returns a fixed, unremarkable classification: no new
// constraints, no fee, no denial. Tests override fields on the zero value
// or wrap this type to vary behavior per case.
type Classifier struct {
	Output collaborator.ClassifyOutput
}

func NewClassifier() *Classifier {
	return &Classifier{Output: collaborator.ClassifyOutput{SchemaVersion: collaborator.ClassificationSchemaVersion}}
}

func (c *Classifier) Classify(ctx context.Context, in collaborator.ClassifyInput) (collaborator.ClassifyOutput, error) {
	out := c.Output
	out.SchemaVersion = collaborator.ClassificationSchemaVersion
	return out, nil
}

// Drafter returns a deterministic subject/body reference derived from the
// action type, so repeated calls in a test are reproducible.
type Drafter struct {
	Confidence float64
}

func NewDrafter() *Drafter { return &Drafter{Confidence: 0.9} }

func (d *Drafter) Draft(ctx context.Context, in collaborator.DraftInput) (collaborator.DraftOutput, error) {
	return collaborator.DraftOutput{
		SchemaVersion: collaborator.ClassificationSchemaVersion,
		SubjectRef:    fmt.Sprintf("dryrun-subject-%s-%s", in.Case.ID, in.ActionType),
		BodyRef:       fmt.Sprintf("dryrun-body-%s-%s", in.Case.ID, in.ActionType),
		Confidence:    d.Confidence,
	}, nil
}

// EmailExecutor never sends anything; it deduplicates on ExecutionKey the
// same way a real provider would, so tests of the exactly-once dispatch
// invariant exercise real dedup logic rather than a no-op stub.
type EmailExecutor struct {
	sent map[string]collaborator.EmailResult
}

func NewEmailExecutor() *EmailExecutor {
	return &EmailExecutor{sent: map[string]collaborator.EmailResult{}}
}

func (e *EmailExecutor) SendEmail(ctx context.Context, req collaborator.EmailRequest) (collaborator.EmailResult, error) {
	if result, ok := e.sent[req.ExecutionKey]; ok {
		return result, nil
	}
	result := collaborator.EmailResult{ProviderRef: "dryrun-" + req.ExecutionKey, Sent: true}
	e.sent[req.ExecutionKey] = result
	return result, nil
}

// PortalExecutor reports DONE once a request's Attempt reaches
// DoneOnAttempt and IN_PROGRESS before that. NewPortalExecutor sets
// DoneOnAttempt to 1, so by default the first attempt is already DONE.
type PortalExecutor struct {
	DoneOnAttempt int
}

func NewPortalExecutor() *PortalExecutor { return &PortalExecutor{DoneOnAttempt: 1} }

func (p *PortalExecutor) SubmitPortalTask(ctx context.Context, req collaborator.PortalTaskRequest) (collaborator.PortalTaskResult, error) {
	if req.Attempt >= p.DoneOnAttempt {
		return collaborator.PortalTaskResult{Status: collaborator.PortalDone, ProviderRef: "dryrun-portal-" + req.CaseID}, nil
	}
	return collaborator.PortalTaskResult{Status: collaborator.PortalInProgress}, nil
}

// Notifier records every notification it receives for test assertions.
type Notifier struct {
	Events []collaborator.Notification
}

func NewNotifier() *Notifier { return &Notifier{} }

func (n *Notifier) Notify(ctx context.Context, notif collaborator.Notification) error {
	n.Events = append(n.Events, notif)
	return nil
}
