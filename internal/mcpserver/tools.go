// Package mcpserver registers MCP tools that expose the message store and
// the realtime connection status to MCP clients.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hellotoday/hellotoday-client/internal/models"
	"github.com/hellotoday/hellotoday-client/internal/realtime"
	"github.com/hellotoday/hellotoday-client/internal/store"
)

// Messages is the subset of *store.Store the tools read and write.
type Messages interface {
	Today() (models.DailyMessageSet, bool)
	GetTodayMessages(ctx context.Context) store.Result[*models.DailyMessageSet]
	GetMessagesByDate(ctx context.Context, date string) store.Result[*models.DailyMessageSet]
	GetAvailableDates(ctx context.Context) store.Result[[]string]
	SendMessageResult(ctx context.Context, content string) store.Result[*models.Message]
	GetTodayStats(ctx context.Context) store.Result[json.RawMessage]
	GetAllStats(ctx context.Context) store.Result[json.RawMessage]
	GetStatsByDate(ctx context.Context, date string) store.Result[json.RawMessage]
}

// Connection reports the realtime connection state and can restart it.
// *realtime.Controller satisfies it.
type Connection interface {
	Status() realtime.Status
	ForceReconnect()
}

// RegisterTools adds all tools to the given MCP server. conn may be nil,
// in which case connection_status and reconnect are not registered.
func RegisterTools(server *mcp.Server, m Messages, conn Connection) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "today_messages",
		Description: "List every message posted today, in arrival order, with the day's total count. Reflects realtime updates.",
	}, todayHandler(m))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "messages_by_date",
		Description: "List the messages posted on a past day. The date is YYYY-MM-DD.",
	}, byDateHandler(m))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "available_dates",
		Description: "List the dates that have messages, as YYYY-MM-DD strings.",
	}, datesHandler(m))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "send_message",
		Description: "Post a message to today's set. Content must be non-empty and at most 500 characters.",
	}, sendHandler(m))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "stats",
		Description: "Message statistics. scope is \"today\" (default), \"all\", or \"date\" together with a date.",
	}, statsHandler(m))

	if conn != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "connection_status",
			Description: "Report the realtime connection state, reconnect attempts, and last error.",
		}, statusHandler(conn))

		mcp.AddTool(server, &mcp.Tool{
			Name:        "reconnect",
			Description: "Drop the realtime connection and reconnect shortly after, resetting the attempt counter. Use when automatic retries have given up.",
		}, reconnectHandler(conn))
	}
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// TodayInput has no parameters.
type TodayInput struct{}

// DateInput holds parameters for messages_by_date.
type DateInput struct {
	Date string `json:"date" jsonschema:"required,day in YYYY-MM-DD form"`
}

// DatesInput has no parameters.
type DatesInput struct{}

// SendInput holds parameters for send_message.
type SendInput struct {
	Content string `json:"content" jsonschema:"required,message text"`
}

// StatsInput holds parameters for stats.
type StatsInput struct {
	Scope string `json:"scope,omitempty" jsonschema:"today, all or date; defaults to today"`
	Date  string `json:"date,omitempty" jsonschema:"day in YYYY-MM-DD form, required when scope is date"`
}

// StatusInput has no parameters.
type StatusInput struct{}

// ReconnectInput has no parameters.
type ReconnectInput struct{}

// --- Output types ---

// MessageOutput is one message with its timestamp rendered as RFC 3339.
type MessageOutput struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at,omitempty"`
}

// DayOutput is the result of today_messages and messages_by_date.
type DayOutput struct {
	Date       string          `json:"date"`
	TotalCount int             `json:"total_count"`
	Messages   []MessageOutput `json:"messages"`
}

// DatesOutput is the result of available_dates.
type DatesOutput struct {
	Dates []string `json:"dates"`
	Total int      `json:"total"`
}

// SendOutput is the result of send_message.
type SendOutput struct {
	Message MessageOutput `json:"message"`
}

// StatusOutput is the result of connection_status.
type StatusOutput struct {
	State     string `json:"state"`
	Attempts  int    `json:"attempts"`
	Transport string `json:"transport,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// ReconnectOutput is the result of reconnect.
type ReconnectOutput struct {
	Scheduled bool   `json:"scheduled"`
	Previous  string `json:"previous_state"`
}

// --- Handlers ---

func todayHandler(m Messages) mcp.ToolHandlerFor[TodayInput, *DayOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ TodayInput) (*mcp.CallToolResult, *DayOutput, error) {
		// Prefer the synced set; fetch only before the first load.
		if set, ok := m.Today(); ok {
			out := dayOutput(&set)
			return textResult(out), out, nil
		}

		res := m.GetTodayMessages(ctx)
		if !res.Success {
			return nil, nil, errors.New(res.Message)
		}

		out := dayOutput(res.Data)

		return textResult(out), out, nil
	}
}

func byDateHandler(m Messages) mcp.ToolHandlerFor[DateInput, *DayOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input DateInput) (*mcp.CallToolResult, *DayOutput, error) {
		if err := validateDate(input.Date); err != nil {
			return nil, nil, err
		}

		res := m.GetMessagesByDate(ctx, input.Date)
		if !res.Success {
			return nil, nil, errors.New(res.Message)
		}

		out := dayOutput(res.Data)

		return textResult(out), out, nil
	}
}

func datesHandler(m Messages) mcp.ToolHandlerFor[DatesInput, *DatesOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ DatesInput) (*mcp.CallToolResult, *DatesOutput, error) {
		res := m.GetAvailableDates(ctx)
		if !res.Success {
			return nil, nil, errors.New(res.Message)
		}

		dates := res.Data
		if dates == nil {
			dates = []string{}
		}

		out := &DatesOutput{Dates: dates, Total: len(dates)}

		return textResult(out), out, nil
	}
}

func sendHandler(m Messages) mcp.ToolHandlerFor[SendInput, *SendOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SendInput) (*mcp.CallToolResult, *SendOutput, error) {
		res := m.SendMessageResult(ctx, input.Content)
		if !res.Success {
			return nil, nil, errors.New(res.Message)
		}

		out := &SendOutput{Message: messageOutput(*res.Data)}

		return textResult(out), out, nil
	}
}

// statsHandler passes the server's stats document through untouched, so it
// declares no output schema.
func statsHandler(m Messages) mcp.ToolHandlerFor[StatsInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input StatsInput) (*mcp.CallToolResult, any, error) {
		var res store.Result[json.RawMessage]

		switch input.Scope {
		case "", "today":
			res = m.GetTodayStats(ctx)
		case "all":
			res = m.GetAllStats(ctx)
		case "date":
			if err := validateDate(input.Date); err != nil {
				return nil, nil, err
			}

			res = m.GetStatsByDate(ctx, input.Date)
		default:
			return nil, nil, fmt.Errorf("unknown scope %q", input.Scope)
		}

		if !res.Success {
			return nil, nil, errors.New(res.Message)
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(res.Data)}},
		}, nil, nil
	}
}

func statusHandler(s Connection) mcp.ToolHandlerFor[StatusInput, *StatusOutput] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, *StatusOutput, error) {
		st := s.Status()
		out := &StatusOutput{
			State:     st.State.String(),
			Attempts:  st.Attempts,
			Transport: st.Transport,
			LastError: st.LastError,
		}

		return textResult(out), out, nil
	}
}

func reconnectHandler(c Connection) mcp.ToolHandlerFor[ReconnectInput, *ReconnectOutput] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ ReconnectInput) (*mcp.CallToolResult, *ReconnectOutput, error) {
		prev := c.Status().State
		c.ForceReconnect()

		out := &ReconnectOutput{Scheduled: true, Previous: prev.String()}

		return textResult(out), out, nil
	}
}

func validateDate(date string) error {
	if date == "" {
		return errors.New("date is required")
	}

	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD, got %q", date)
	}

	return nil
}

func dayOutput(set *models.DailyMessageSet) *DayOutput {
	out := &DayOutput{Messages: []MessageOutput{}}
	if set == nil {
		return out
	}

	out.Date = set.Date
	out.TotalCount = len(set.Messages)

	for _, msg := range set.Messages {
		out.Messages = append(out.Messages, messageOutput(msg))
	}

	return out
}

func messageOutput(msg models.Message) MessageOutput {
	out := MessageOutput{ID: string(msg.ID), Content: msg.Content}
	if !msg.CreatedAt.IsZero() {
		out.CreatedAt = msg.CreatedAt.Format(time.RFC3339)
	}

	return out
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
