package errs

// Error codes for the chat client. Ranges: 10xx identity, 20xx transport,
// 30xx conversation.
const (
	IdentityInvalidError = 1001

	HTTPStatusError     = 2001
	ChannelError        = 2002
	MalformedFrameError = 2003
	SendFailedError     = 2004

	HistoryFetchError  = 3001
	UnknownFriendError = 3002
	NotFocusedError    = 3003
	InvalidInputError  = 3004
)

var (
	ErrIdentityInvalid = NewCodeError(IdentityInvalidError, "IdentityInvalid")

	ErrHTTPStatus     = NewCodeError(HTTPStatusError, "HTTPStatusError")
	ErrChannel        = NewCodeError(ChannelError, "ChannelError")
	ErrMalformedFrame = NewCodeError(MalformedFrameError, "MalformedFrame")
	ErrSendFailed     = NewCodeError(SendFailedError, "SendFailed")

	ErrHistoryFetch  = NewCodeError(HistoryFetchError, "HistoryFetchFailed")
	ErrUnknownFriend = NewCodeError(UnknownFriendError, "UnknownFriend")
	ErrNotFocused    = NewCodeError(NotFocusedError, "NotFocused")
	ErrInvalidInput  = NewCodeError(InvalidInputError, "InvalidInput")
)
