package recovery

import (
	"fmt"

	"github.com/wudi/layersplit/observability"
)

// StrictStrategy implements a fail-fast recovery strategy.
type StrictStrategy struct{}

func NewStrictStrategy() *StrictStrategy {
	return &StrictStrategy{}
}

func (s *StrictStrategy) OnError(ctx Context, err error, location Location) Action {
	return ActionFail
}

// LenientStrategy repairs what it can and keeps a record of every defect it let through.
type LenientStrategy struct {
	Errors []error
	logger observability.Logger
}

func NewLenientStrategy() *LenientStrategy {
	return &LenientStrategy{logger: observability.NopLogger{}}
}

// WithLogger reports each recovered defect at warn level.
func (s *LenientStrategy) WithLogger(l observability.Logger) *LenientStrategy {
	if l != nil {
		s.logger = l
	}
	return s
}

func (s *LenientStrategy) OnError(ctx Context, err error, location Location) Action {
	s.Errors = append(s.Errors, fmt.Errorf("[%s] offset %d: %w", location.Component, location.ByteOffset, err))
	s.logger.Warn("recovered malformed input",
		observability.String("component", location.Component),
		observability.Int64("offset", location.ByteOffset),
		observability.Int("object", location.ObjectNum),
		observability.Error("error", err),
	)
	return ActionFix
}
