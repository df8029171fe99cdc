package domain

import "time"

// ResponseType classifies the terminal outcome of a conversation turn.
type ResponseType string

const (
	// ResponseAnswer is a plain textual answer with no side effects.
	ResponseAnswer ResponseType = "answer"
	// ResponseClarify indicates the agent needs more information from the user.
	ResponseClarify ResponseType = "clarify"
	// ResponseError indicates the turn ended with a failure explanation.
	ResponseError ResponseType = "error"
	// ResponseUI indicates the turn produced display commands only.
	ResponseUI ResponseType = "ui"
	// ResponseData indicates the turn produced data-mutating code.
	ResponseData ResponseType = "data"
	// ResponseMixed indicates the turn produced both code and display commands.
	ResponseMixed ResponseType = "mixed"
)

// Action names the reasoning service may request.
const (
	ActionInspectColumn  = "inspect_column"
	ActionRunSQL         = "run_sql"
	ActionQueueUICommand = "queue_ui_command"
	ActionFinish         = "finish"
)

// Action is a single tool invocation requested by the reasoning service.
type Action struct {
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// TrajectoryStep records one reasoning/observation exchange within a turn.
type TrajectoryStep struct {
	Step        int    `json:"step"`
	Assistant   string `json:"assistant"`
	Observation string `json:"observation,omitempty"`
}

// Turn is the outcome of one user request. It is built during the agent
// loop and discarded after the response is returned; the only state that
// outlives it is whatever the committed code mutated in the table store.
type Turn struct {
	Query        string           `json:"query"`
	Trajectory   []TrajectoryStep `json:"trajectory,omitempty"`
	ResponseType ResponseType     `json:"response_type"`
	Answer       string           `json:"answer"`
	Code         string           `json:"code,omitempty"`
	Commands     []UICommand      `json:"commands,omitempty"`
	ResultTable  string           `json:"result_table,omitempty"`
	LLMUsed      bool             `json:"llm_used"`
}

// UICommand is a display instruction destined for the front end.
// It carries an "action" key naming a recognized display operation.
type UICommand map[string]any

// ExecutionError classifies a failed sandbox run.
type ExecutionError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// TableValue is a tabular sandbox result normalized for JSON transport.
type TableValue struct {
	Columns []string         `json:"columns"`
	Records []map[string]any `json:"records"`
	Shape   [2]int           `json:"shape"`
}

// ExecutionResult is the outcome of one sandbox run.
// On failure Value is absent; on success Error is absent.
type ExecutionResult struct {
	Success bool              `json:"success"`
	Value   any               `json:"value,omitempty"`
	Error   *ExecutionError   `json:"error,omitempty"`
	Locals  map[string]string `json:"locals,omitempty"`
}

// PendingExecution is a staged, not-yet-committed operation. It is created
// by preview and consumed exactly once by confirm.
type PendingExecution struct {
	Query       string       `json:"query"`
	Mode        ResponseType `json:"mode"`
	Code        string       `json:"code"`
	Commands    []UICommand  `json:"commands"`
	Explanation string       `json:"explanation"`
}

// SnapshotEntry pairs a user-visible table with its backup copy.
type SnapshotEntry struct {
	Original string `json:"original"`
	Backup   string `json:"backup"`
}

// Snapshot is a point-in-time copy of a set of tables, taken before a
// confirmed mutating operation.
type Snapshot struct {
	ID        string          `json:"id"`
	Tables    []SnapshotEntry `json:"tables"`
	CreatedAt time.Time       `json:"created_at"`
}

// TableInfo describes a registered table.
type TableInfo struct {
	Name        string            `json:"name"`
	Rows        int64             `json:"rows"`
	Columns     int               `json:"columns"`
	ColumnNames []string          `json:"column_names"`
	Schema      map[string]string `json:"schema"`
}

// PreviewResult is returned by the preview operation.
type PreviewResult struct {
	Query             string           `json:"query"`
	Mode              ResponseType     `json:"mode"`
	Code              string           `json:"code"`
	Commands          []UICommand      `json:"commands"`
	Explanation       string           `json:"explanation"`
	NeedsConfirmation bool             `json:"needs_confirmation"`
	Trajectory        []TrajectoryStep `json:"trajectory,omitempty"`
}

// ConfirmResult is returned by the confirm operation.
type ConfirmResult struct {
	Mode            ResponseType     `json:"mode"`
	Code            string           `json:"code"`
	CommandsSent    int              `json:"commands_sent"`
	Explanation     string           `json:"explanation"`
	ExecutionResult *ExecutionResult `json:"execution_result,omitempty"`
	Success         bool             `json:"success"`
}

// ExecuteResult is returned by the direct execute operation.
type ExecuteResult struct {
	Query           string           `json:"query"`
	Code            string           `json:"code"`
	Explanation     string           `json:"explanation"`
	ExecutionResult *ExecutionResult `json:"execution_result,omitempty"`
	Success         bool             `json:"success"`
	ResponseType    ResponseType     `json:"response_type"`
	Answer          string           `json:"answer"`
	ResultTable     string           `json:"result_table,omitempty"`
}

// ColumnMapping pairs a column of one table with its semantic counterpart
// in another.
type ColumnMapping struct {
	TableACol  string  `json:"table_a_col"`
	TableBCol  string  `json:"table_b_col"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// MappingResult is returned by the semantic mapping operation.
type MappingResult struct {
	Mappings          []ColumnMapping `json:"mappings"`
	JoinKeySuggestion string          `json:"join_key_suggestion,omitempty"`
	LLMUsed           bool            `json:"llm_used"`
	ProviderError     string          `json:"provider_error,omitempty"`
}

// UndoResult is returned by the undo operation.
type UndoResult struct {
	Success        bool     `json:"success"`
	Message        string   `json:"message"`
	RestoredTables []string `json:"restored_tables,omitempty"`
}
