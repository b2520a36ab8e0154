package astisplitter

type Status uint32

// Must be in order of execution
const (
	StatusCreated Status = iota
	StatusOpening
	StatusOpen
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusOpening:
		return "opening"
	case StatusOpen:
		return "open"
	default:
		return "closed"
	}
}
