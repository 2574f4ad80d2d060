package recovery

type Strategy string

const (
	RetryWithBackoff      Strategy = "retry_with_backoff"
	ResumeFromLastSuccess Strategy = "resume_from_last_success"
	FullRetry             Strategy = "full_retry"
	NoRecovery            Strategy = "no_recovery"
)

// SelectStrategy is a fixed mapping from error category to recovery action.
// Changing it changes observable retry behavior, so it is a table, not a
// computed property.
func SelectStrategy(classified ClassifiedError) Strategy {
	switch classified.Type {
	case ErrorRateLimit:
		return RetryWithBackoff
	case ErrorNetwork:
		return ResumeFromLastSuccess
	case ErrorDatabase:
		return FullRetry
	case ErrorAuthentication, ErrorValidation:
		return NoRecovery
	default:
		return RetryWithBackoff
	}
}
