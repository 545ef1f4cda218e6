package session

// TransitionError is returned when a transition's precondition does not
// hold. The session is left unchanged; callers surface the code to the user.
type TransitionError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e TransitionError) Error() string {
	return e.Message
}

// ValidationError is returned when a transition is fed malformed input,
// before any state is touched.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Message
}

var (
	ErrAlreadyRunning = TransitionError{Code: "ALREADY_RUNNING", Message: "session is already running"}
	ErrNotRunning     = TransitionError{Code: "NOT_RUNNING", Message: "session is not running"}
	ErrTradeOpen      = TransitionError{Code: "TRADE_ALREADY_OPEN", Message: "a trade is already open for this session"}
	ErrNoTradeOpen    = TransitionError{Code: "NO_TRADE_OPEN", Message: "no trade is open for this session"}

	ErrMissingAPIToken  = ValidationError{Code: "MISSING_API_TOKEN", Message: "an API token is required to start a session"}
	ErrInvalidBaseStake = ValidationError{Code: "INVALID_BASE_AMOUNT", Message: "base amount must be positive"}
	ErrInvalidTPTarget  = ValidationError{Code: "INVALID_TP_TARGET", Message: "take-profit target must be positive when set"}
	ErrInvalidLossLimit = ValidationError{Code: "INVALID_LOSS_LIMIT", Message: "max consecutive losses must be positive"}
)
