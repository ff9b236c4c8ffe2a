package agent

import (
	"context"
	"fmt"
	"log"

	"github.com/stellarlinkco/agentcore/pkg/hooks"
	"github.com/stellarlinkco/agentcore/pkg/session"
	"github.com/stellarlinkco/agentcore/pkg/tool"
)

// spawner implements tool.SubagentSpawner: it instantiates a child session
// with its own tool restriction set and optional model override, runs the
// same loop, and hands a single textual result back to the parent.
type spawner struct {
	agent  *Agent
	parent *session.Session
}

func (s *spawner) Spawn(ctx context.Context, req tool.SpawnRequest) (*tool.SpawnResult, error) {
	a := s.agent
	def, err := a.subagents.Get(req.SubagentType)
	if err != nil {
		return nil, err
	}

	// SubagentStart is blockable.
	merged, err := a.hookMgr.Fire(ctx, hooks.SubagentStart, &hooks.Payload{
		SessionID: s.parent.ID(),
		AgentType: def.Name,
	})
	if err != nil {
		return nil, err
	}
	if !merged.Continue {
		return nil, fmt.Errorf("%w: %s", ErrBlockedByHook, merged.StopReason)
	}

	var child *session.Session
	if req.ResumeID != "" {
		child, err = a.store.Get(ctx, req.ResumeID)
		if err != nil {
			return nil, fmt.Errorf("agent: resume subagent: %w", err)
		}
		child.SetState(session.StateActive, "")
	} else {
		child = session.New(
			session.WithParent(s.parent.ID()),
			session.WithType(def.Name),
			session.WithTenant(s.parent.TenantID()),
		)
	}

	cfg := runConfig{access: a.access, agentType: def.Name}
	if len(def.AllowedTools) > 0 {
		cfg.access = tool.AccessOnly(def.AllowedTools...)
	}
	modelName := req.Model
	if modelName == "" {
		modelName = def.Model
	}
	if modelName != "" {
		if spec, rerr := a.models.Resolve(modelName); rerr == nil {
			cfg.model = spec.ID
		} else {
			cfg.model = modelName
		}
	}

	if req.Background {
		workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		task := a.tasks.Start(child.ID(), cancel)
		go func() {
			result, runErr := a.run(workCtx, child, req.Prompt, nil, cfg)
			output := ""
			if result != nil {
				output = result.Output
			}
			task.Complete(output, runErr)
			s.fireStop(def.Name, child.ID(), runErr)
		}()
		return &tool.SpawnResult{TaskID: task.ID, SessionID: child.ID()}, nil
	}

	result, runErr := a.run(ctx, child, req.Prompt, nil, cfg)
	s.fireStop(def.Name, child.ID(), runErr)
	if runErr != nil {
		return nil, runErr
	}
	return &tool.SpawnResult{SessionID: child.ID(), Output: result.Output}, nil
}

func (s *spawner) fireStop(agentType, childID string, runErr error) {
	payload := &hooks.Payload{SessionID: childID, AgentType: agentType}
	if runErr != nil {
		payload.Reason = runErr.Error()
	}
	if _, err := s.agent.hookMgr.Fire(context.Background(), hooks.SubagentStop, payload); err != nil {
		log.Printf("agent: SubagentStop hook: %v", err)
	}
}
