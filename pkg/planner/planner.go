// Package planner runs the agent loop: prompt the model, execute the
// tool calls it makes, feed the results back, repeat until the task
// completes or a guard trips. One Planner owns one conversation; the
// loop is a state machine whose sole suspension points are the
// dispatched network calls.
package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agentcore/pkg/config"
	"agentcore/pkg/contextmgr"
	"agentcore/pkg/llm"
	"agentcore/pkg/llmerrors"
	"agentcore/pkg/logx"
	"agentcore/pkg/promptcache"
	"agentcore/pkg/registry"
	"agentcore/pkg/tools"
)

// Dispatcher is the slice of the failover executor the planner
// dispatches through.
type Dispatcher interface {
	Execute(ctx context.Context, req llm.CompletionRequest, promptTokens int) (registry.Result, error)
	ExecuteStream(ctx context.Context, req llm.CompletionRequest, promptTokens int) (registry.Result, error)
}

// ToolRunner is the slice of the tool executor the planner needs:
// definitions to advertise and a bounded Execute per call.
type ToolRunner interface {
	Definitions() []tools.ToolDefinition
	Execute(ctx context.Context, name string, args map[string]any) (string, bool)
}

// Config defines planner behavior for one conversation. Zero values
// fall back to the package defaults from pkg/config.
//
//nolint:govet // fieldalignment: struct fields ordered for clarity over memory alignment
type Config struct {
	// SystemPrompt becomes the conversation's first message.
	SystemPrompt string

	// MaxIterations caps prompting turns (runaway-loop guard).
	MaxIterations int

	// MaxTokens is the requested output ceiling; the per-provider
	// budget may lower it, never raise it.
	MaxTokens int

	// Temperature for every dispatched request.
	Temperature float32

	// MaxToolCorrections bounds corrective rounds for malformed tool
	// calls before the task fails.
	MaxToolCorrections int

	// MaxConsecutiveToolFailures bounds rounds where every executed
	// tool call failed before the task fails.
	MaxConsecutiveToolFailures int

	// Streaming dispatches via Stream and buffers chunks until the
	// message boundary.
	Streaming bool

	// OnContent receives streamed content deltas as they arrive.
	// Only used when Streaming is set.
	OnContent func(string)
}

// ConfigFromAgent maps the agent section of the configuration file
// onto a planner Config.
func ConfigFromAgent(a *config.AgentConfig) Config {
	return Config{
		SystemPrompt:               a.SystemPrompt,
		MaxIterations:              a.MaxIterations,
		MaxTokens:                  a.MaxTokens,
		Temperature:                a.Temperature,
		MaxToolCorrections:         a.MaxToolCorrections,
		MaxConsecutiveToolFailures: a.MaxConsecutiveToolFailures,
	}
}

func (c *Config) applyDefaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = config.DefaultMaxIterations
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = llm.DefaultMaxTokens
	}
	if c.Temperature <= 0 {
		c.Temperature = llm.TemperatureDefault
	}
	if c.MaxToolCorrections <= 0 {
		c.MaxToolCorrections = config.DefaultMaxToolCorrections
	}
	if c.MaxConsecutiveToolFailures <= 0 {
		c.MaxConsecutiveToolFailures = config.DefaultMaxConsecutiveToolFailures
	}
}

// Planner drives one conversation from task prompt to terminal state.
// Not safe for concurrent use; Run may be called once.
//
//nolint:govet // fieldalignment: logical grouping preferred
type Planner struct {
	dispatcher Dispatcher
	toolRunner ToolRunner
	cache      *promptcache.Controller
	conv       *contextmgr.ConversationState
	logger     *logx.Logger
	cfg        Config
	hooks      []StepHook
	state      State

	usage               llm.Usage
	corrections         int
	consecutiveFailures int
	truncated           bool
}

// New creates a planner over the given dispatcher and tool runner.
// Hooks observe completed steps in registration order.
func New(dispatcher Dispatcher, toolRunner ToolRunner, cfg Config, hooks ...StepHook) *Planner {
	cfg.applyDefaults()
	return &Planner{
		dispatcher: dispatcher,
		toolRunner: toolRunner,
		cache:      promptcache.New(),
		conv:       contextmgr.NewConversation(cfg.SystemPrompt),
		logger:     logx.NewLogger("planner"),
		cfg:        cfg,
		hooks:      hooks,
		state:      StateIdle,
	}
}

// State returns the planner's current state.
func (p *Planner) State() State {
	return p.state
}

// Conversation returns the conversation the planner owns. Read it
// after Run returns; the planner mutates it while running.
func (p *Planner) Conversation() *contextmgr.ConversationState {
	return p.conv
}

// Run executes the loop for one task and returns its terminal outcome.
func (p *Planner) Run(ctx context.Context, task string) Outcome {
	if p.state != StateIdle {
		return Outcome{
			ConversationID: p.conv.ID(),
			Status:         p.conv.Status(),
			Turns:          p.conv.TurnCount(),
			Err:            fmt.Errorf("planner already ran (state %s)", p.state),
		}
	}
	p.conv.AppendUser(task)

	// Tag the context so the metrics and rate-limit layers attribute every
	// dispatched call to this conversation.
	ctx = logx.WithConversationID(ctx, p.conv.ID())

	for {
		if ctx.Err() != nil {
			return p.cancelled(ctx.Err())
		}
		if p.conv.TurnCount() >= p.cfg.MaxIterations {
			p.logger.Warn("⚠️  Iteration ceiling (%d) reached", p.cfg.MaxIterations)
			return p.failed(&AbortError{Reason: ReasonIterationCap})
		}
		turn := p.conv.BeginTurn()

		start := time.Now()
		resp, result, err := p.promptOnce(ctx, turn)
		stepDuration := time.Since(start)
		if err != nil {
			// A stream cut mid-message still yielded content; keep it.
			if resp.Content != "" {
				p.conv.AppendAssistant(resp.Content, nil)
			}
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return p.cancelled(err)
			}
			return p.failed(fmt.Errorf("turn %d: %w", turn, err))
		}

		p.transition(StateParsingToolCalls)
		p.conv.AppendAssistant(resp.Content, resp.ToolCalls)
		p.conv.RecordUsage(resp.Usage)
		p.accumulateUsage(resp.Usage)
		p.fireHooks(StepRecord{
			ConversationID: p.conv.ID(),
			Turn:           turn,
			EntryID:        result.EntryID,
			Model:          result.Descriptor.ModelID,
			Content:        resp.Content,
			ToolCallCount:  len(resp.ToolCalls),
			Usage:          resp.Usage,
			Duration:       stepDuration,
		})

		if len(resp.ToolCalls) == 0 {
			return p.completed(resp.Content, "")
		}

		outcome, terminal := p.executeTools(ctx, resp)
		if terminal {
			return outcome
		}
	}
}

// promptOnce dispatches one completion. Context overflow triggers a
// single truncation of the oldest non-system turns followed by one
// re-dispatch; a second overflow is final.
func (p *Planner) promptOnce(ctx context.Context, turn int) (llm.CompletionResponse, registry.Result, error) {
	for {
		p.transition(StatePrompting)
		req := p.buildRequest()
		promptTokens := p.conv.CumulativePromptTokens()

		p.logger.Info("🔄 Turn %d: dispatching %d messages, %d tools, ~%d prompt tokens",
			turn, len(req.Messages), len(req.Tools), promptTokens)

		p.transition(StateAwaitingResponse)
		start := time.Now()
		resp, result, err := p.dispatch(ctx, req, promptTokens)

		if err == nil {
			p.logger.Info("✅ Turn %d served by '%s' in %.3gs (%d tool calls)",
				turn, result.EntryID, time.Since(start).Seconds(), len(resp.ToolCalls))
			return resp, result, nil
		}

		if !llmerrors.IsContextOverflow(err) {
			return resp, result, err
		}
		if p.truncated {
			return resp, result, &AbortError{Reason: ReasonContextOverflow, Err: err}
		}
		p.truncated = true

		// Halving the estimated prompt leaves room for any candidate
		// whose window the full transcript exceeded.
		target := p.conv.CumulativePromptTokens() / 2
		dropped := p.conv.TruncateToFit(target)
		p.logger.Warn("✂️  Context overflow on turn %d: dropped %d oldest messages, retrying", turn, dropped)
		if dropped == 0 {
			return resp, result, &AbortError{Reason: ReasonContextOverflow, Err: err}
		}
	}
}

func (p *Planner) dispatch(ctx context.Context, req llm.CompletionRequest, promptTokens int) (llm.CompletionResponse, registry.Result, error) {
	if !p.cfg.Streaming {
		result, err := p.dispatcher.Execute(ctx, req, promptTokens)
		return result.Response, result, err
	}

	result, err := p.dispatcher.ExecuteStream(ctx, req, promptTokens)
	if err != nil {
		return llm.CompletionResponse{}, result, err
	}
	resp, err := p.drainStream(ctx, result.Stream)
	return resp, result, err
}

// drainStream buffers a stream until the message boundary. Whatever
// content accumulated before an error is returned alongside it so a
// cancellation preserves partial output. A channel that closes before
// delivering a Done chunk is a failure, not a completion: middleware
// goroutines close their output without forwarding the terminal chunk
// when the context dies mid-stream.
func (p *Planner) drainStream(ctx context.Context, ch <-chan llm.StreamChunk) (llm.CompletionResponse, error) {
	var resp llm.CompletionResponse
	var content strings.Builder
	done := false

	for chunk := range ch {
		if chunk.Error != nil {
			resp.Content = content.String()
			return resp, chunk.Error
		}
		if chunk.Content != "" {
			content.WriteString(chunk.Content)
			if p.cfg.OnContent != nil {
				p.cfg.OnContent(chunk.Content)
			}
		}
		if len(chunk.ToolCalls) > 0 {
			resp.ToolCalls = append(resp.ToolCalls, chunk.ToolCalls...)
		}
		if chunk.Usage != nil {
			resp.Usage = *chunk.Usage
		}
		if chunk.Done {
			done = true
			break
		}
	}
	resp.Content = content.String()
	if !done {
		if ctx.Err() != nil {
			return resp, ctx.Err()
		}
		return resp, llmerrors.NewError(llmerrors.ErrorTypeTransient, "stream closed before the message boundary")
	}
	return resp, nil
}

func (p *Planner) buildRequest() llm.CompletionRequest {
	req := llm.NewCompletionRequest(p.conv.Messages())
	req.Tools = p.toolRunner.Definitions()
	req.MaxTokens = p.cfg.MaxTokens
	req.Temperature = p.cfg.Temperature
	return p.cache.Annotate(req)
}

// executeTools runs every tool call in the response, appends one
// ToolResult per call, and applies the correction and failure guards.
// The returned outcome is only valid when terminal is true.
func (p *Planner) executeTools(ctx context.Context, resp llm.CompletionResponse) (Outcome, bool) {
	p.transition(StateExecutingTools)

	results := make([]llm.ToolResult, 0, len(resp.ToolCalls))
	executed, failed, malformed := 0, 0, 0
	doneSummary := ""
	taskDone := false

	for i := range resp.ToolCalls {
		call := &resp.ToolCalls[i]

		if call.Malformed != "" {
			malformed++
			results = append(results, llm.ToolResult{
				ToolCallID: call.ID,
				Name:       call.Name,
				Content: fmt.Sprintf("Tool call could not be parsed: %s. "+
					"Re-issue the call with valid JSON arguments.", call.Malformed),
				IsError: true,
			})
			continue
		}

		// Cancellation skips queued tool execution; results appended
		// so far stay in the conversation.
		if ctx.Err() != nil {
			p.conv.AppendToolResults(results)
			return p.cancelled(ctx.Err()), true
		}

		content, isError := p.toolRunner.Execute(ctx, call.Name, call.Parameters)
		executed++
		if isError {
			failed++
		} else if call.Name == tools.ToolDone {
			taskDone = true
			if summary, ok := call.Parameters["summary"].(string); ok {
				doneSummary = summary
			}
		}
		results = append(results, llm.ToolResult{
			ToolCallID: call.ID,
			Name:       call.Name,
			Content:    content,
			IsError:    isError,
		})
	}

	p.conv.AppendToolResults(results)

	if malformed > 0 {
		p.corrections++
		p.logger.Warn("⚠️  %d malformed tool calls (correction %d/%d)",
			malformed, p.corrections, p.cfg.MaxToolCorrections)
		if p.corrections > p.cfg.MaxToolCorrections {
			return p.failed(&AbortError{
				Reason: ReasonToolCorrections,
				Err:    fmt.Errorf("%d corrective attempts used", p.corrections-1),
			}), true
		}
	}

	if executed > 0 && failed == executed {
		p.consecutiveFailures++
		p.logger.Warn("⚠️  All %d executed tool calls failed (round %d/%d)",
			executed, p.consecutiveFailures, p.cfg.MaxConsecutiveToolFailures)
		if p.consecutiveFailures >= p.cfg.MaxConsecutiveToolFailures {
			return p.failed(&AbortError{
				Reason: ReasonToolFailures,
				Err:    fmt.Errorf("%d consecutive all-failed tool rounds", p.consecutiveFailures),
			}), true
		}
	} else if executed > 0 {
		p.consecutiveFailures = 0
	}

	if taskDone {
		return p.completed(resp.Content, doneSummary), true
	}
	return Outcome{}, false
}

func (p *Planner) completed(content, summary string) Outcome {
	p.transition(StateCompleted)
	if err := p.conv.Complete(); err != nil {
		p.logger.Error("❌ Conversation status: %v", err)
	}
	p.logger.Info("🏁 Task completed after %d turns", p.conv.TurnCount())
	return p.outcome(content, summary, nil)
}

func (p *Planner) failed(err error) Outcome {
	p.transition(StateFailed)
	if ferr := p.conv.Fail(); ferr != nil {
		p.logger.Error("❌ Conversation status: %v", ferr)
	}
	p.logger.Error("❌ Task failed after %d turns: %v", p.conv.TurnCount(), err)
	return p.outcome(p.lastAssistantContent(), "", err)
}

func (p *Planner) cancelled(cause error) Outcome {
	p.transition(StateCancelled)
	if cerr := p.conv.Cancel(); cerr != nil {
		p.logger.Error("❌ Conversation status: %v", cerr)
	}
	p.logger.Warn("🛑 Task cancelled after %d turns", p.conv.TurnCount())
	var abort *AbortError
	if !errors.As(cause, &abort) {
		cause = &AbortError{Reason: ReasonCancelled, Err: cause}
	}
	return p.outcome(p.lastAssistantContent(), "", cause)
}

func (p *Planner) outcome(content, summary string, err error) Outcome {
	return Outcome{
		ConversationID: p.conv.ID(),
		Status:         p.conv.Status(),
		Content:        content,
		Summary:        summary,
		Turns:          p.conv.TurnCount(),
		Usage:          p.usage,
		Err:            err,
	}
}

// lastAssistantContent finds the most recent assistant content so a
// failure or cancellation outcome still carries partial output.
func (p *Planner) lastAssistantContent() string {
	msgs := p.conv.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleAssistant && msgs[i].Content != "" {
			return msgs[i].Content
		}
	}
	return ""
}

func (p *Planner) transition(to State) {
	if !IsValidTransition(p.state, to) {
		// A bug in the loop, not a runtime condition; log and proceed
		// so the conversation still reaches a terminal state.
		p.logger.Error("❌ Invalid state transition %s -> %s", p.state, to)
	}
	p.logger.Debug("state %s -> %s", p.state, to)
	p.state = to
}

func (p *Planner) accumulateUsage(u llm.Usage) {
	p.usage.PromptTokens += u.PromptTokens
	p.usage.CompletionTokens += u.CompletionTokens
	p.usage.TotalTokens += u.TotalTokens
	if u.Estimated {
		p.usage.Estimated = true
	}
}

func (p *Planner) fireHooks(rec StepRecord) {
	for _, hook := range p.hooks {
		hook(rec)
	}
}
