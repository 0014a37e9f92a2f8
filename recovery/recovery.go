package recovery

type Strategy interface {
	OnError(ctx Context, err error, location Location) Action
}

// Location pins a defect to a byte offset and, when known, to the object being read.
type Location struct {
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
	Component  string
}

type Action int

const (
	ActionFail Action = iota
	ActionSkip
	ActionFix
	ActionWarn
)

func (a Action) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionFix:
		return "fix"
	case ActionWarn:
		return "warn"
	default:
		return "fail"
	}
}

type Context interface{ Done() <-chan struct{} }
