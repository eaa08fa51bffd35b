package appliance

// Outcome tags how a submission's result was established.
type Outcome int

// Submission outcomes.
const (
	// OutcomeFailed is never carried by a Delivery; results built from
	// errors use it.
	OutcomeFailed Outcome = iota

	// OutcomeConfirmed is a 2xx page carrying a positive marker.
	OutcomeConfirmed

	// OutcomeAccepted is a 2xx page with neither a positive marker nor an
	// error fragment.
	OutcomeAccepted

	// OutcomeRedirect is the appliance's usual redirect-to-listing.
	OutcomeRedirect

	// OutcomeOpaqueRedirect is a transport failure shaped like a blocked
	// cross-origin redirect, assumed to hide a successful submission.
	OutcomeOpaqueRedirect
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRedirect:
		return "redirect"
	case OutcomeOpaqueRedirect:
		return "opaque-redirect"
	default:
		return "failed"
	}
}

// MarshalText encodes the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Success reports whether the outcome counts as a successful submission.
func (o Outcome) Success() bool {
	return o != OutcomeFailed
}

// Confidence says whether success was observed or inferred.
type Confidence int

// Confidence levels.
const (
	ConfidenceNone Confidence = iota
	ConfidenceConfirmed
	ConfidenceHeuristic
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceConfirmed:
		return "confirmed"
	case ConfidenceHeuristic:
		return "heuristic"
	default:
		return "none"
	}
}

// MarshalText encodes the confidence by name.
func (c Confidence) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// opaqueRedirectNote explains an OutcomeOpaqueRedirect to the user.
const opaqueRedirectNote = "confirmation was blocked by cross-origin policy; " +
	"success is assumed, verify on the appliance"

// Delivery describes a submission the appliance is considered to have
// accepted. Failures are returned as errors instead.
type Delivery struct {
	Outcome    Outcome
	Confidence Confidence
	StatusCode int
	Location   string
	Message    string
	Note       string
	Excerpt    string
}
