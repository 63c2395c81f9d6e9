package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashureev/ecoplan/internal/domain"
	"github.com/ashureev/ecoplan/internal/questionflow"
)

// maxMessageBytes bounds one transcript entry.
const maxMessageBytes = 16 << 10

var messageRoles = map[string]bool{"user": true, "assistant": true, "system": true}

// SaveInputs appends a client-side snapshot of the collected inputs to the
// session's message log. The snapshot is informational; the session's own
// inputs are not changed. It reports whether the log is persistent.
func (o *Orchestrator) SaveInputs(ctx context.Context, sessionID string, inputs domain.Inputs) (bool, error) {
	if _, err := o.repo.Get(ctx, sessionID); err != nil {
		return false, err
	}
	raw, err := json.Marshal(inputs)
	if err != nil {
		return false, fmt.Errorf("encode inputs: %w", err)
	}
	m := &domain.StoredMessage{
		Kind:      domain.MessageInputsSnapshot,
		Role:      "system",
		Content:   string(raw),
		CreatedAt: o.now(),
	}
	if err := o.repo.AppendMessage(ctx, sessionID, m); err != nil {
		return false, fmt.Errorf("append inputs snapshot: %w", err)
	}
	return o.repo.Persistent(), nil
}

// AppendMessage records one transcript entry.
func (o *Orchestrator) AppendMessage(ctx context.Context, sessionID, role, content string) (bool, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	problems := map[string]string{}
	if !messageRoles[role] {
		problems["role"] = "must be user, assistant or system"
	}
	switch {
	case strings.TrimSpace(content) == "":
		problems["content"] = "is required"
	case len(content) > maxMessageBytes:
		problems["content"] = fmt.Sprintf("must be at most %d bytes", maxMessageBytes)
	}
	if len(problems) > 0 {
		return false, &questionflow.ValidationError{Fields: problems}
	}

	if _, err := o.repo.Get(ctx, sessionID); err != nil {
		return false, err
	}
	m := &domain.StoredMessage{
		Kind:      domain.MessageChat,
		Role:      role,
		Content:   content,
		CreatedAt: o.now(),
	}
	if err := o.repo.AppendMessage(ctx, sessionID, m); err != nil {
		return false, fmt.Errorf("append message: %w", err)
	}
	return o.repo.Persistent(), nil
}

// Messages returns the session's message log.
func (o *Orchestrator) Messages(ctx context.Context, sessionID string) ([]domain.StoredMessage, error) {
	if _, err := o.repo.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return o.repo.Messages(ctx, sessionID)
}
