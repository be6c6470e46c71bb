package session

import "testing"

// TestSessionLifecycle tests the Anonymous -> Authenticated -> Anonymous transitions
func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	s := New("conn-1")
	if s.State() != Anonymous {
		t.Fatalf("new session state = %v, want anonymous", s.State())
	}
	if _, ok := s.UserID(); ok {
		t.Error("anonymous session should have no user")
	}
	if _, ok := s.Logout(); ok {
		t.Error("Logout() on anonymous session should report false")
	}

	s.Login(7, "tok")
	if s.State() != Authenticated {
		t.Fatalf("state after login = %v, want authenticated", s.State())
	}
	if id, ok := s.UserID(); !ok || id != 7 {
		t.Errorf("UserID() = %d, %v, want 7, true", id, ok)
	}
	if s.Token() != "tok" {
		t.Errorf("Token() = %q, want tok", s.Token())
	}

	s.Login(8, "tok2")
	if id, _ := s.UserID(); id != 8 {
		t.Errorf("UserID() after relogin = %d, want 8", id)
	}

	id, ok := s.Logout()
	if !ok || id != 8 {
		t.Errorf("Logout() = %d, %v, want 8, true", id, ok)
	}
	if s.State() != Anonymous || s.Token() != "" {
		t.Errorf("after logout state = %v token = %q", s.State(), s.Token())
	}
	if s.ConnID() != "conn-1" {
		t.Errorf("ConnID() = %q", s.ConnID())
	}
}

// TestStateString tests state names
func TestStateString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{Anonymous, "anonymous"},
		{Authenticated, "authenticated"},
		{State(9), "State(9)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
