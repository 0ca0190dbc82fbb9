package bot

// User error messages (user mistakes, shown directly)
const (
	MsgNewUsage       = "Usage: /new <question>"
	MsgRefreshUsage   = "Reply /refresh to a poll message."
	MsgPollNotFound   = "This poll is no longer tracked."
	MsgInvalidOption  = "This option no longer exists."
	MsgEmptyOption    = "An answer can't be empty."
	MsgVoteNotAllowed = "Votes can only be cast from a chat."
)

// System error messages (internal errors, hide details from user)
const (
	MsgInternalError     = "An internal error occurred. Please try again later."
	MsgFailedSendPoll    = "Failed to send the poll. Please try again."
	MsgFailedCreatePoll  = "Failed to create the poll. Please try again."
	MsgFailedRecordVote  = "Failed to record your vote. Please try again."
	MsgFailedRefreshPoll = "Failed to refresh the poll. Please try again."
)

// Format strings for dynamic messages
const (
	MsgFmtVoteRecorded  = "Voted for %s"
	MsgFmtVoteUnchanged = "You already voted for %s"
)
