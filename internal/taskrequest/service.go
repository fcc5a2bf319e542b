package taskrequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"crewforge/internal/console"
	"crewforge/internal/domain"
	"crewforge/internal/llm"
)

var (
	ErrCompletionFailed  = errors.New("llm completion failed after retry")
	ErrMalformedResponse = errors.New("llm response is not the requested JSON")
)

// InstructionFunc returns the instruction text for a given input.
type InstructionFunc func(input string) string

type Reporter interface {
	AgentMessage(kind console.Kind, position, statement string)
}

type Service struct {
	completer llm.Completer
	reporter  Reporter
	logger    *log.Logger
}

func New(completer llm.Completer, reporter Reporter, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{completer: completer, reporter: reporter, logger: logger}
}

// ExtendInstruction wraps the instruction for input into the system message
// that asks the model to print only the function's output.
func ExtendInstruction(fn InstructionFunc, input string) domain.Message {
	instruction := fn(input)
	return domain.Message{
		Role: domain.RoleSystem,
		Content: fmt.Sprintf(
			"FUNCTION %s INSTRUCTION: You are a function printer. You ONLY print the results of functions. "+
				"Nothing else. No commentary. Here is the input to the function: %s",
			instruction, input,
		),
	}
}

// Request runs one completion for msgContext. A failed call is retried once
// with the identical message; a second failure returns ErrCompletionFailed.
func (s *Service) Request(ctx context.Context, msgContext, position, operation string, fn InstructionFunc) (string, error) {
	msg := ExtendInstruction(fn, msgContext)
	if s.reporter != nil {
		s.reporter.AgentMessage(console.AICall, position, operation)
	}

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		text, err := s.completer.Complete(ctx, []domain.Message{msg})
		if err == nil {
			return text, nil
		}
		lastErr = err
		s.logger.Printf("task request failed position=%q operation=%s attempt=%d err=%v", position, operation, attempt, err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrCompletionFailed, operation, ctxErr)
		}
	}
	return "", fmt.Errorf("%w: %s: %v", ErrCompletionFailed, operation, lastErr)
}

// RequestDecoded is Request followed by a JSON decode of the completion into T.
func RequestDecoded[T any](ctx context.Context, s *Service, msgContext, position, operation string, fn InstructionFunc) (T, error) {
	var zero T
	text, err := s.Request(ctx, msgContext, position, operation, fn)
	if err != nil {
		return zero, err
	}
	out, err := Decode[T](text)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", operation, err)
	}
	return out, nil
}

func Decode[T any](text string) (T, error) {
	var out T
	if err := json.Unmarshal([]byte(StripFences(text)), &out); err != nil {
		return out, fmt.Errorf("%w: %v; output: %s", ErrMalformedResponse, err, trim(text, 400))
	}
	return out, nil
}

// StripFences removes a surrounding markdown code fence, if any.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if i := strings.IndexByte(text, '\n'); i >= 0 && !strings.ContainsAny(text[:i], "{[\"") {
		text = text[i+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func trim(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := n - 3
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
