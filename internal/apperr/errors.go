package apperr

var (
	ErrInvalidInput = New(KindValidation, "invalid_input", "invalid input")

	ErrContestNotFound  = New(KindNotFound, "contest_not_found", "contest not found")
	ErrContestStarted   = New(KindConflict, "contest_already_started", "contest already started")
	ErrContestEnded     = New(KindConflict, "contest_ended", "contest ended")
	ErrNoQuota          = New(KindConflict, "no_quota", "no enrollment quota available")
	ErrEnrollmentDenied = New(KindConflict, "enrollment_denied", "user is not allowed to enroll")
	ErrEntryNotFound    = New(KindNotFound, "entry_not_found", "entry not found")
	ErrGracePeriod      = New(KindConflict, "grace_period", "contest is still within its grace period")
	ErrContestNotEnded  = New(KindConflict, "contest_not_ended", "contest has not ended")
	ErrInvalidTiers     = New(KindInvariant, "invalid_prize_tiers", "invalid prize tier table")
	ErrTiersFrozen      = New(KindConflict, "prize_tiers_frozen", "prize tiers cannot change after the contest started")
	ErrInvalidWindow    = New(KindValidation, "invalid_window", "contest start must be before end")

	ErrContestNotFinalized = New(KindConflict, "contest_not_finalized", "contest not finalized")
	ErrNotRanked           = New(KindConflict, "not_ranked", "user has no entry in this contest")
	ErrNotEligible         = New(KindConflict, "not_eligible", "rank is outside the prize tiers")
	ErrClaimNotFound       = New(KindNotFound, "claim_not_found", "claim not found")
	ErrClaimTerminal       = New(KindConflict, "claim_terminal", "claim is already completed or rejected")
	ErrInvalidTransition   = New(KindConflict, "invalid_transition", "claim transition not allowed")
	ErrAbnormalReview      = New(KindConflict, "abnormal_review_required", "abnormal step count must be reviewed")
	ErrVerifierNotFound    = New(KindNotFound, "verifier_not_found", "verifier not found")

	ErrSelfReferral    = New(KindValidation, "self_referral", "users cannot refer themselves")
	ErrNegativeBalance = New(KindInvariant, "negative_quota", "quota credit would go negative")
)
