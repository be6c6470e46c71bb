package frost

// Status is the result code carried in headers.status of every reply.
// Values are part of the wire contract and never change.
type Status int

const (
	StatusSuccess           Status = 0
	StatusInvalidAuth       Status = 1
	StatusDuplicateUsername Status = 2
	StatusPermissionDenied  Status = 3
	StatusRoomNotFound      Status = 4
	StatusEmptyRoomName     Status = 5
	StatusDuplicateRoomName Status = 6
	StatusInvalidInvite     Status = 7

	// Protocol level statuses
	StatusRouteNotFound    Status = 8
	StatusMalformedRequest Status = 9
	StatusRateLimited      Status = 10
	StatusInternalError    Status = 11
)

var statusNames = map[Status]string{
	StatusSuccess:           "SUCCESS",
	StatusInvalidAuth:       "INVALID_AUTH",
	StatusDuplicateUsername: "DUPLICATE_USERNAME",
	StatusPermissionDenied:  "PERMISSION_DENIED",
	StatusRoomNotFound:      "ROOM_NOT_FOUND",
	StatusEmptyRoomName:     "EMPTY_ROOM_NAME",
	StatusDuplicateRoomName: "DUPLICATE_ROOM_NAME",
	StatusInvalidInvite:     "INVALID_INVITE",
	StatusRouteNotFound:     "ROUTE_NOT_FOUND",
	StatusMalformedRequest:  "MALFORMED_REQUEST",
	StatusRateLimited:       "RATE_LIMITED",
	StatusInternalError:     "INTERNAL_ERROR",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Route namespaces.
const (
	NamespaceAuthentication = "authentication"
	NamespaceMessages       = "messages"
	NamespaceRooms          = "rooms"
)

// Request paths.
const (
	PathRegister = "authentication/register"
	PathLogin    = "authentication/login"
	PathLogout   = "authentication/logout"

	PathSendMessage = "messages/send"
	PathGetMessages = "messages/get_all"
	PathGetNew      = "messages/get_new"

	PathCreateRoom    = "rooms/create"
	PathJoinRoom      = "rooms/join"
	PathLeaveRoom     = "rooms/leave"
	PathJoinedRooms   = "rooms/get_all_joined"
	PathGetInviteCode = "rooms/get_invite_code"
	PathGetMembers    = "rooms/get_members"
)

// Server pushes.
const (
	PathNewMessage   = "messages/new"
	PathMemberJoined = "rooms/member_joined"
	PathMemberLeft   = "rooms/member_left"
)

// Standard error messages
const (
	// Protocol errors
	ErrRouteNotFound    = "route not found"
	ErrMalformedRequest = "malformed request"
	ErrRateLimited      = "rate limit exceeded"
	ErrInternalError    = "internal error"
	ErrInvalidAuth      = "invalid credentials"

	// Connection errors
	ErrConnectionClosed     = "connection is closed"
	ErrSendBufferFull       = "send buffer full"
	ErrFailedToEncode       = "failed to encode message"
	ErrServerAlreadyRunning = "server already running"
)
