package contact

// Status is the banner state of a contact section.
type Status int

const (
	StatusUnset Status = iota
	StatusSuccess
	StatusError
)

// Banner texts.
const (
	SuccessMessage = "Thank you for your message! We will get back to you soon."
	ErrorMessage   = "Please fill in all fields."
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unset"
	}
}

// Message returns the banner text, empty when unset.
func (s Status) Message() string {
	switch s {
	case StatusSuccess:
		return SuccessMessage
	case StatusError:
		return ErrorMessage
	default:
		return ""
	}
}
