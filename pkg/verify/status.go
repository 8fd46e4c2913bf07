package verify

// Status classifies one package. Every package gets exactly one.
type Status int

const (
	Success Status = iota
	NoSignature
	WrongSignature
	ReadError
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case NoSignature:
		return "no_signature"
	case WrongSignature:
		return "wrong_signature"
	case ReadError:
		return "read_error"
	default:
		return "unknown"
	}
}

// Statuses lists every status, in report order.
var Statuses = []Status{Success, NoSignature, WrongSignature, ReadError}

// Result is the outcome of checking one package.
type Result struct {
	Path   string
	Status Status
	// Signer is the matched parent key id on Success and the last seen
	// issuer on WrongSignature.
	Signer string
	Err    error
}
