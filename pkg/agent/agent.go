// Package agent drives the reasoning service through a bounded
// Thought/Action/Observation loop and turns the trajectory into a
// classified, confirmable outcome.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/gridmind/gridmind/pkg/domain"
	"github.com/gridmind/gridmind/pkg/model"
	"github.com/gridmind/gridmind/pkg/relay"
	"github.com/gridmind/gridmind/pkg/sandbox"
	"github.com/gridmind/gridmind/pkg/store"
	"github.com/gridmind/gridmind/pkg/undo"
)

// ErrNothingPending is returned by Confirm when no preview staged an
// operation (or the previous one was already consumed).
var ErrNothingPending = errors.New("no pending operation to confirm")

// DefaultMaxSteps bounds the reasoning loop.
const DefaultMaxSteps = 5

// DefaultTemperature biases the reasoning service toward determinism.
const DefaultTemperature = 0.3

const observationLimit = 500

// uiCommandWhitelist names the display operations collected from the
// trajectory. Anything else queued by the model is ignored at commit time.
var uiCommandWhitelist = map[string]bool{
	"setHeaderStyle":       true,
	"freezeColumns":        true,
	"setConditionalFormat": true,
	"setBorder":            true,
	"hideRowsWhere":        true,
	"sortByColumn":         true,
}

// StepObserver receives trajectory steps as they happen. Used by the
// websocket chat endpoint to stream progress.
type StepObserver func(step domain.TrajectoryStep)

// Agent orchestrates the reasoning loop and owns the pending-execution
// slot. All collaborators are injected; the agent holds no global state.
type Agent struct {
	store       store.TableStore
	provider    model.Provider
	sandbox     *sandbox.Sandbox
	undo        *undo.Manager
	relay       *relay.Queue
	prompts     *Prompts
	maxSteps    int
	temperature float32

	mu      sync.Mutex
	pending *domain.PendingExecution
}

// New creates an Agent. provider may be nil, in which case every turn takes
// the non-LLM fallback path. maxSteps <= 0 and temperature <= 0 select the
// defaults.
func New(
	ts store.TableStore,
	provider model.Provider,
	sb *sandbox.Sandbox,
	um *undo.Manager,
	rq *relay.Queue,
	prompts *Prompts,
	maxSteps int,
	temperature float32,
) *Agent {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	if temperature <= 0 {
		temperature = DefaultTemperature
	}
	return &Agent{
		store:       ts,
		provider:    provider,
		sandbox:     sb,
		undo:        um,
		relay:       rq,
		prompts:     prompts,
		maxSteps:    maxSteps,
		temperature: temperature,
	}
}

// Preview runs the reasoning loop and stages the outcome as the single
// pending execution. A new preview silently replaces any prior one.
func (a *Agent) Preview(ctx context.Context, query string, observers ...StepObserver) (*domain.PreviewResult, error) {
	turn, err := a.run(ctx, query, observers)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.pending = &domain.PendingExecution{
		Query:       query,
		Mode:        turn.ResponseType,
		Code:        turn.Code,
		Commands:    turn.Commands,
		Explanation: turn.Answer,
	}
	a.mu.Unlock()

	return &domain.PreviewResult{
		Query:             query,
		Mode:              turn.ResponseType,
		Code:              turn.Code,
		Commands:          turn.Commands,
		Explanation:       turn.Answer,
		NeedsConfirmation: true,
		Trajectory:        turn.Trajectory,
	}, nil
}

// Confirm consumes the pending execution: snapshots the loaded tables,
// applies the accumulated code, and flushes queued display commands. The
// pending slot is cleared unconditionally before any work happens, so a
// crash mid-commit cannot leave stale state blocking future previews.
func (a *Agent) Confirm(ctx context.Context) (*domain.ConfirmResult, error) {
	a.mu.Lock()
	p := a.pending
	a.pending = nil
	a.mu.Unlock()

	if p == nil {
		return nil, ErrNothingPending
	}

	result := &domain.ConfirmResult{
		Mode:        p.Mode,
		Code:        p.Code,
		Explanation: p.Explanation,
		Success:     true,
	}

	if (p.Mode == domain.ResponseData || p.Mode == domain.ResponseMixed) && p.Code != "" {
		tables, err := a.store.ListTables(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing tables: %w", err)
		}
		if len(tables) > 0 {
			if _, err := a.undo.Snapshot(ctx, tables); err != nil {
				// Without a snapshot the mutation would be irreversible;
				// abort the commit rather than apply it.
				return nil, fmt.Errorf("snapshot before commit: %w", err)
			}
		}

		execResult := a.sandbox.Run(ctx, sandbox.Request{Code: p.Code})
		result.ExecutionResult = execResult
		result.Success = execResult.Success

		if execResult.Success {
			if err := a.store.RefreshRowCounts(ctx); err != nil {
				slog.Warn("Refreshing row counts after commit failed", "error", err)
			}
		}
	}

	if (p.Mode == domain.ResponseUI || p.Mode == domain.ResponseMixed) && len(p.Commands) > 0 {
		a.relay.AddBatch(p.Commands)
		result.CommandsSent = len(p.Commands)
		slog.Info("Queued UI commands", "count", len(p.Commands))
	}

	return result, nil
}

// Execute runs the reasoning loop and immediately applies its accumulated
// code, skipping the preview/confirm dance. No snapshot is taken.
func (a *Agent) Execute(ctx context.Context, query string, observers ...StepObserver) (*domain.ExecuteResult, error) {
	turn, err := a.run(ctx, query, observers)
	if err != nil {
		return nil, err
	}

	result := &domain.ExecuteResult{
		Query:        query,
		Code:         turn.Code,
		Explanation:  turn.Answer,
		Success:      true,
		ResponseType: turn.ResponseType,
		Answer:       turn.Answer,
		ResultTable:  turn.ResultTable,
	}

	if turn.Code != "" {
		execResult := a.sandbox.Run(ctx, sandbox.Request{Code: turn.Code})
		result.ExecutionResult = execResult
		result.Success = execResult.Success
		if execResult.Success {
			if err := a.store.RefreshRowCounts(ctx); err != nil {
				slog.Warn("Refreshing row counts after execute failed", "error", err)
			}
		}
	}

	return result, nil
}

// Pending reports whether an operation is staged.
func (a *Agent) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending != nil
}

// run drives the reasoning loop for one turn.
func (a *Agent) run(ctx context.Context, query string, observers []StepObserver) (*domain.Turn, error) {
	tables, err := a.store.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}

	if len(tables) == 0 {
		return &domain.Turn{
			Query:        query,
			ResponseType: domain.ResponseAnswer,
			Answer:       "No tables are loaded yet. Upload a CSV file first, then ask again.",
		}, nil
	}

	if a.provider == nil {
		return a.fallbackTurn(ctx, query, tables), nil
	}

	tableContext, err := a.describeTables(ctx, tables)
	if err != nil {
		return nil, fmt.Errorf("building table context: %w", err)
	}

	messages := []model.Message{
		{Role: domain.RoleSystem, Content: a.prompts.SystemPrompt},
		{Role: domain.RoleUser, Content: fmt.Sprintf("## Context\n%s\n## Question\n%s", tableContext, query)},
	}

	turn := &domain.Turn{Query: query, LLMUsed: true}
	var finishInput map[string]any
	typeTag := ""
	finished := false

	for step := 1; step <= a.maxSteps; step++ {
		text, err := a.provider.Chat(ctx, messages, a.temperature)
		if err != nil {
			return nil, fmt.Errorf("reasoning service: %w", err)
		}
		messages = append(messages, model.Message{Role: domain.RoleAssistant, Content: text})

		trajStep := domain.TrajectoryStep{Step: step, Assistant: text}

		action := parseReAct(text)
		if action == nil {
			// Non-ReAct-compliant output is not retried; the whole reply
			// becomes the answer.
			turn.Answer = text
			turn.Trajectory = append(turn.Trajectory, trajStep)
			notify(observers, trajStep)
			break
		}

		if action.Name == domain.ActionFinish {
			finished = true
			finishInput = action.Input
			if t, ok := action.Input["type"].(string); ok && t != "" {
				typeTag = t
			}
			turn.Answer = finishAnswer(action.Input)
			turn.Trajectory = append(turn.Trajectory, trajStep)
			notify(observers, trajStep)
			break
		}

		observation := a.dispatch(ctx, action)
		trajStep.Observation = observation
		turn.Trajectory = append(turn.Trajectory, trajStep)
		notify(observers, trajStep)

		messages = append(messages, model.Message{
			Role:    domain.RoleUser,
			Content: "Observation: " + observation,
		})
		slog.Debug("Agent step", "step", step, "action", action.Name)
	}

	// Step limit reached without a finish: the last assistant message is the
	// answer. A finish that carried no answer text stays empty.
	if turn.Answer == "" && !finished {
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Role == domain.RoleAssistant {
				turn.Answer = messages[i].Content
				break
			}
		}
	}

	turn.Code, turn.Commands = collectArtifacts(messages)

	if finishInput != nil {
		turn.ResultTable = resultTable(finishInput)
	}

	if typeTag != "" {
		turn.ResponseType = domain.ResponseType(typeTag)
	} else {
		turn.ResponseType = classify(turn.Answer, turn.Code, turn.Commands)
	}

	return turn, nil
}

// dispatch routes one action to its tool and returns the observation text.
// Tool failures become observations, feeding self-correction on the next
// step; they never abort the loop.
func (a *Agent) dispatch(ctx context.Context, action *domain.Action) string {
	switch action.Name {
	case domain.ActionInspectColumn:
		return a.inspectColumn(ctx, action.Input)

	case domain.ActionRunSQL:
		code, _ := action.Input["code"].(string)
		if code == "" {
			return "Error: 'code' is required"
		}
		// Exploration never mutates: row-changing statements are staged
		// and only applied at commit time.
		result := a.sandbox.Run(ctx, sandbox.Request{Code: code, DeferMutations: true})
		if !result.Success {
			return fmt.Sprintf("Execution error (%s): %s", result.Error.Type, result.Error.Message)
		}
		return renderValue(result.Value)

	case domain.ActionQueueUICommand:
		a.relay.Add(domain.UICommand(action.Input))
		return "UI command queued."

	default:
		return fmt.Sprintf("Error: unknown tool %q", action.Name)
	}
}

func (a *Agent) inspectColumn(ctx context.Context, input map[string]any) string {
	table, _ := input["table_name"].(string)
	column, _ := input["column_name"].(string)
	if table == "" || column == "" {
		return "Error: 'table_name' and 'column_name' are required"
	}
	n := 10
	if f, ok := input["n"].(float64); ok && f > 0 {
		n = int(f)
	}

	if _, err := a.store.TableInfo(ctx, table); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	val, err := a.store.Query(ctx, fmt.Sprintf(
		`SELECT DISTINCT %s FROM %s LIMIT %d`, quoteIdent(column), quoteIdent(table), n))
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}

	values := make([]any, 0, len(val.Records))
	for _, rec := range val.Records {
		values = append(values, rec[column])
	}
	return renderValue(values)
}

// describeTables builds the dataset context fed to the reasoning service:
// per table, its shape, schema, and a small sample.
func (a *Agent) describeTables(ctx context.Context, tables []string) (string, error) {
	var sb strings.Builder
	sb.WriteString("## Loaded tables\n\n")
	for _, name := range tables {
		info, err := a.store.TableInfo(ctx, name)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "### %s (%d rows, %d columns)\n", name, info.Rows, info.Columns)
		for _, col := range info.ColumnNames {
			fmt.Fprintf(&sb, "- %s: %s\n", col, info.Schema[col])
		}
		if sample, err := a.store.Sample(ctx, name, 3); err == nil && len(sample.Records) > 0 {
			b, _ := json.Marshal(sample.Records)
			fmt.Fprintf(&sb, "Sample: %s\n", truncate(string(b), observationLimit))
		}
		sb.WriteString("---\n")
	}
	return sb.String(), nil
}

// fallbackTurn serves requests when no reasoning provider is configured.
func (a *Agent) fallbackTurn(ctx context.Context, query string, tables []string) *domain.Turn {
	code := fmt.Sprintf(`SELECT * FROM %s LIMIT 100`, quoteIdent(tables[0]))
	return &domain.Turn{
		Query:        query,
		ResponseType: domain.ResponseAnswer,
		Answer:       fmt.Sprintf("No reasoning service is configured; returning the first 100 rows of %q.", tables[0]),
		Code:         code,
	}
}

// collectArtifacts scans every assistant message for an embedded code
// argument and whitelisted UI commands, in emission order. Distinct code
// blocks are joined so later mutations may depend on earlier ones.
func collectArtifacts(messages []model.Message) (string, []domain.UICommand) {
	var blocks []string
	seen := map[string]bool{}
	var commands []domain.UICommand

	for _, msg := range messages {
		if msg.Role != domain.RoleAssistant {
			continue
		}
		action := parseReAct(msg.Content)
		if action == nil {
			continue
		}
		if code, ok := action.Input["code"].(string); ok && code != "" && !seen[code] {
			seen[code] = true
			blocks = append(blocks, strings.TrimRight(strings.TrimSpace(code), ";"))
		}
		if name, ok := action.Input["action"].(string); ok && uiCommandWhitelist[name] {
			commands = append(commands, domain.UICommand(action.Input))
		}
	}

	return strings.Join(blocks, ";\n"), commands
}

func finishAnswer(input map[string]any) string {
	if s, ok := input["answer"].(string); ok && s != "" {
		return s
	}
	if s, ok := input["final_answer"].(string); ok {
		return s
	}
	return ""
}

func resultTable(input map[string]any) string {
	if s, ok := input["result_table"].(string); ok && s != "" {
		return s
	}
	if s, ok := input["temp_table"].(string); ok {
		return s
	}
	return ""
}

func renderValue(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return truncate(fmt.Sprintf("%v", v), observationLimit)
	}
	return truncate(string(b), observationLimit)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	// Back up to a rune boundary so the cut never emits invalid UTF-8.
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func notify(observers []StepObserver, step domain.TrajectoryStep) {
	for _, obs := range observers {
		obs(step)
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
