package queue

import "github.com/riverqueue/river"

// AgentRunArgs kicks off case-graph execution for a freshly created run.
// The run_initial_request and run_inbound_message job names share this
// payload shape; RunEngine dispatches on TriggerType. resume_run uses
// ResumeRunArgs instead.
type AgentRunArgs struct {
	RunID       string `json:"run_id"`
	CaseID      string `json:"case_id"`
	TriggerType string `json:"trigger_type"`
	MessageID   string `json:"message_id,omitempty"`
}

func (AgentRunArgs) Kind() string { return "agent_run" }

func (a AgentRunArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueAgent,
		MaxAttempts: Profiles[QueueAgent].MaxAttempts,
		UniqueOpts: river.UniqueOpts{
			ByArgs: true,
		},
	}
}

// ResumeRunArgs delivers a human decision to a case waiting at
// gate_or_execute. It carries the decision payload directly rather than
// leaving the worker to look it up, so a replayed job id is
// self-contained.
type ResumeRunArgs struct {
	RunID      string `json:"run_id"`
	CaseID     string `json:"case_id"`
	ProposalID string `json:"proposal_id"`
	Decision   string `json:"decision"`
	Note       string `json:"note,omitempty"`
}

func (ResumeRunArgs) Kind() string { return "resume_run" }

func (a ResumeRunArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueAgent,
		MaxAttempts: Profiles[QueueAgent].MaxAttempts,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	}
}

// FollowupTriggerArgs fires a scheduled follow-up run as a
// run_followup_trigger job.
type FollowupTriggerArgs struct {
	RunID      string `json:"run_id"`
	FollowupID string `json:"followup_id"`
	CaseID     string `json:"case_id"`
}

func (FollowupTriggerArgs) Kind() string { return "followup_trigger" }

func (a FollowupTriggerArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueAgent,
		MaxAttempts: Profiles[QueueAgent].MaxAttempts,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	}
}

// The QueueEmail, QueueAnalysis, QueueGeneration and QueuePortal profiles
// in profiles.go still describe the per-concern retry/backoff table for
// those concerns, but carry no job kind of their own: internal/casegraph's
// executeAction dispatches email and portal side effects synchronously
// inside the graph node. No case-graph node is registered with a
// graph.NodePolicy, so a failed dispatch is not retried there either: it
// fails the node and so the run. Classification/
// drafting happen the same way in loadContext/draft. A prior pass of
// this package defined EmailDispatchArgs/AnalysisArgs/GenerationArgs/
// PortalTaskArgs job kinds for those queues; they were never enqueued
// or given a Worker, so they were removed rather than left dead.
