package frost

import (
	"strings"
	"testing"
)

// TestStatusCodes verifies the wire values and names of every status
func TestStatusCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status Status
		code   int
		name   string
	}{
		{StatusSuccess, 0, "SUCCESS"},
		{StatusInvalidAuth, 1, "INVALID_AUTH"},
		{StatusDuplicateUsername, 2, "DUPLICATE_USERNAME"},
		{StatusPermissionDenied, 3, "PERMISSION_DENIED"},
		{StatusRoomNotFound, 4, "ROOM_NOT_FOUND"},
		{StatusEmptyRoomName, 5, "EMPTY_ROOM_NAME"},
		{StatusDuplicateRoomName, 6, "DUPLICATE_ROOM_NAME"},
		{StatusInvalidInvite, 7, "INVALID_INVITE"},
		{StatusRouteNotFound, 8, "ROUTE_NOT_FOUND"},
		{StatusMalformedRequest, 9, "MALFORMED_REQUEST"},
		{StatusRateLimited, 10, "RATE_LIMITED"},
		{StatusInternalError, 11, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if int(tt.status) != tt.code {
				t.Errorf("%s = %d, want %d", tt.name, int(tt.status), tt.code)
			}
			if got := tt.status.String(); got != tt.name {
				t.Errorf("String() = %q, want %q", got, tt.name)
			}
		})
	}

	if got := Status(99).String(); got != "UNKNOWN" {
		t.Errorf("Status(99).String() = %q, want UNKNOWN", got)
	}
}

// TestPaths verifies every path is namespace/action with a known namespace
func TestPaths(t *testing.T) {
	t.Parallel()

	namespaces := map[string]bool{
		NamespaceAuthentication: true,
		NamespaceMessages:       true,
		NamespaceRooms:          true,
	}
	paths := []string{
		PathRegister, PathLogin, PathLogout,
		PathSendMessage, PathGetMessages, PathGetNew,
		PathCreateRoom, PathJoinRoom, PathLeaveRoom, PathJoinedRooms, PathGetInviteCode, PathGetMembers,
		PathNewMessage, PathMemberJoined, PathMemberLeft,
	}

	seen := make(map[string]bool)
	for _, p := range paths {
		ns, action, ok := strings.Cut(p, "/")
		if !ok || action == "" || strings.Contains(action, "/") {
			t.Errorf("path %q is not namespace/action", p)
			continue
		}
		if !namespaces[ns] {
			t.Errorf("path %q has unknown namespace %q", p, ns)
		}
		if seen[p] {
			t.Errorf("path %q declared twice", p)
		}
		seen[p] = true
	}
}

// TestErrorMessages verifies error messages are non-empty
func TestErrorMessages(t *testing.T) {
	t.Parallel()

	for name, msg := range map[string]string{
		"ErrRouteNotFound":        ErrRouteNotFound,
		"ErrMalformedRequest":     ErrMalformedRequest,
		"ErrRateLimited":          ErrRateLimited,
		"ErrInternalError":        ErrInternalError,
		"ErrInvalidAuth":          ErrInvalidAuth,
		"ErrConnectionClosed":     ErrConnectionClosed,
		"ErrSendBufferFull":       ErrSendBufferFull,
		"ErrFailedToEncode":       ErrFailedToEncode,
		"ErrServerAlreadyRunning": ErrServerAlreadyRunning,
	} {
		if msg == "" {
			t.Errorf("%s should not be empty", name)
		}
	}
}
