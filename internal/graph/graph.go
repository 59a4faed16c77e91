// Package graph runs one conversation turn as a two-node state machine.
//
// Every turn enters at compress, which collapses the history into a single
// summary once enough turns have accumulated, and continues unconditionally to
// generate, which asks the model for the next assistant reply. The turn runs
// inside a checkpoint transaction so the new state is saved only when both
// nodes succeed.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/chatd/internal/checkpoint"
	"github.com/ashureev/chatd/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultCompressionThreshold is the number of completed turns after which
// the history is summarized.
const DefaultCompressionThreshold = 3

const (
	systemPrompt    = "You are a helpful assistant."
	greetingRequest = "Generate initial greeting."
	summaryPrompt   = "Summarize the following messages into a concise context that captures the key points of the conversation so far. " +
		"The summary should be brief but informative, allowing the assistant to understand the context without needing to review all previous messages. " +
		"maximum 100 words."
)

// CompleteFunc returns the model's reply to messages.
type CompleteFunc func(ctx context.Context, messages []domain.Message) (string, error)

// Node names a step of the graph.
type Node string

const (
	NodeCompress Node = "compress"
	NodeGenerate Node = "generate"
	NodeEnd      Node = "end"
)

// Decision tells whether compress rewrote the history.
type Decision int

const (
	Skipped Decision = iota
	Compressed
)

func (d Decision) String() string {
	if d == Compressed {
		return "compressed"
	}
	return "skipped"
}

// CompressResult is the outcome of the compress node.
type CompressResult struct {
	Decision Decision
	State    domain.AgentState
}

// Result is the outcome of one turn.
type Result struct {
	Reply          string
	ConversationID string
	State          domain.AgentState
}

// Graph executes turns against a checkpoint store.
type Graph struct {
	complete  CompleteFunc
	store     checkpoint.Store
	threshold int
	logger    *slog.Logger
	tracer    trace.Tracer

	entry Node
	edges map[Node]Node
}

// Option configures a Graph.
type Option func(*Graph)

// WithCompressionThreshold overrides DefaultCompressionThreshold. Values
// below 1 are ignored.
func WithCompressionThreshold(n int) Option {
	return func(g *Graph) {
		if n > 0 {
			g.threshold = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Graph) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithTracer sets the tracer used for turn and node spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(g *Graph) {
		if tracer != nil {
			g.tracer = tracer
		}
	}
}

// New wires compress -> generate -> end around complete and store.
func New(complete CompleteFunc, store checkpoint.Store, opts ...Option) *Graph {
	g := &Graph{
		complete:  complete,
		store:     store,
		threshold: DefaultCompressionThreshold,
		logger:    slog.Default(),
		tracer:    otel.Tracer("github.com/ashureev/chatd/internal/graph"),
		entry:     NodeCompress,
		edges: map[Node]Node{
			NodeCompress: NodeGenerate,
			NodeGenerate: NodeEnd,
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Threshold returns the configured compression threshold.
func (g *Graph) Threshold() int {
	return g.threshold
}

// Invoke runs one turn for conversationID. A nil input asks the model for a
// greeting. On any error nothing is persisted.
func (g *Graph) Invoke(ctx context.Context, conversationID string, input *string) (Result, error) {
	if conversationID == "" {
		return Result{}, errors.New("conversation id is required")
	}

	ctx, span := g.tracer.Start(ctx, "graph.turn", trace.WithAttributes(
		attribute.String("conversation.id", conversationID),
		attribute.Bool("turn.has_input", input != nil),
	))
	defer span.End()

	var result Result
	err := g.store.Transact(ctx, conversationID, func(state *domain.AgentState) error {
		turn := state.Clone()
		if input != nil {
			text := *input
			turn.PendingInput = &text
		}

		final, err := g.run(ctx, turn)
		if err != nil {
			return err
		}
		final.PendingInput = nil

		reply, _ := final.LastAssistantMessage()
		result = Result{
			Reply:          reply.Content,
			ConversationID: conversationID,
			State:          final,
		}
		*state = final.Clone()
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.Warn("Turn failed", "conversation_id", conversationID, "error", err)
		return Result{}, err
	}

	span.SetAttributes(attribute.Int("state.messages", len(result.State.Messages)))
	g.logger.Debug("Turn completed",
		"conversation_id", conversationID,
		"messages", len(result.State.Messages),
		"turns_since_compression", result.State.TurnsSinceCompression,
	)
	return result, nil
}

func (g *Graph) run(ctx context.Context, state domain.AgentState) (domain.AgentState, error) {
	for node := g.entry; node != NodeEnd; node = g.edges[node] {
		switch node {
		case NodeCompress:
			res, err := g.Compress(ctx, state)
			if err != nil {
				return domain.AgentState{}, err
			}
			state = res.State
		case NodeGenerate:
			next, err := g.Generate(ctx, state)
			if err != nil {
				return domain.AgentState{}, err
			}
			state = next
		default:
			return domain.AgentState{}, fmt.Errorf("unknown graph node %q", node)
		}
	}
	return state, nil
}

// Compress summarizes the history once TurnsSinceCompression reaches the
// threshold. The input state is never modified.
func (g *Graph) Compress(ctx context.Context, state domain.AgentState) (CompressResult, error) {
	ctx, span := g.tracer.Start(ctx, "graph.compress")
	defer span.End()

	if state.TurnsSinceCompression < g.threshold {
		span.SetAttributes(attribute.String("compress.decision", Skipped.String()))
		return CompressResult{Decision: Skipped, State: state.Clone()}, nil
	}

	summary, err := g.complete(ctx, []domain.Message{
		domain.NewSystemMessage(summaryPrompt),
		domain.NewUserMessage(state.Render()),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return CompressResult{}, modelError(NodeCompress, err)
	}

	next := domain.AgentState{
		Messages:              []domain.Message{domain.NewAssistantMessage(summary)},
		TurnsSinceCompression: 0,
	}
	if state.PendingInput != nil {
		text := *state.PendingInput
		next.PendingInput = &text
	}

	span.SetAttributes(
		attribute.String("compress.decision", Compressed.String()),
		attribute.Int("compress.messages_in", len(state.Messages)),
	)
	g.logger.Info("Compressed conversation history", "messages", len(state.Messages))
	return CompressResult{Decision: Compressed, State: next}, nil
}

// Generate appends the model's reply to the history and counts the turn. The
// input state is never modified.
func (g *Graph) Generate(ctx context.Context, state domain.AgentState) (domain.AgentState, error) {
	ctx, span := g.tracer.Start(ctx, "graph.generate")
	defer span.End()

	request := greetingRequest
	if state.PendingInput != nil {
		request = *state.PendingInput
	}

	prompt := make([]domain.Message, 0, len(state.Messages)+2)
	prompt = append(prompt, domain.NewSystemMessage(systemPrompt))
	prompt = append(prompt, state.Messages...)
	prompt = append(prompt, domain.NewUserMessage(request))

	reply, err := g.complete(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.AgentState{}, modelError(NodeGenerate, err)
	}

	next := state.Clone()
	next.Messages = append(next.Messages, domain.NewAssistantMessage(reply))
	next.TurnsSinceCompression++
	span.SetAttributes(attribute.Int("generate.prompt_messages", len(prompt)))
	return next, nil
}

func modelError(node Node, err error) error {
	if errors.Is(err, domain.ErrModelUnavailable) {
		return fmt.Errorf("%s: %w", node, err)
	}
	return fmt.Errorf("%s: %w: %w", node, domain.ErrModelUnavailable, err)
}
