package completion

import (
	"context"
	"fmt"

	"github.com/casaflow/chatcore/internal/model"
)

// Static is an offline Service that echoes a canned acknowledgement. It
// backs local development and tests where no completion endpoint is running.
type Static struct {
	// Reply overrides the default acknowledgement when non-empty.
	Reply string
}

var _ Service = (*Static)(nil)
var _ Analyzer = (*Static)(nil)

func (s *Static) Complete(ctx context.Context, history []model.Message) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Reply != "" {
		return &Result{Content: s.Reply}, nil
	}
	var last string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == model.RoleUser {
			last = history[i].Content
			break
		}
	}
	return &Result{Content: fmt.Sprintf("Thanks for reaching out. I've noted: %s", last)}, nil
}

// Analyze returns an empty result: the static service derives no auxiliary
// metadata.
func (s *Static) Analyze(ctx context.Context, history []model.Message) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Result{}, nil
}
