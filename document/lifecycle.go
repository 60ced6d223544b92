package document

// Next returns the status reached by applying action to a document in from.
// Signed and revoked documents accept no further transitions.
func Next(from Status, action string) (Status, bool) {
	switch {
	case from == StatusDraft && action == ActionReview:
		return StatusReviewed, true
	case from == StatusReviewed && action == ActionSign:
		return StatusSigned, true
	case (from == StatusDraft || from == StatusReviewed) && action == ActionRevoke:
		return StatusRevoked, true
	default:
		return from, false
	}
}
