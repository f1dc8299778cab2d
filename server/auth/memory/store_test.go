package memory

import (
	"context"
	"testing"

	"github.com/cyp0633/caldora/server/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Authenticate(t *testing.T) {
	s := New(WithUsers(map[string]string{"alice": "secret"}))
	require.NoError(t, s.AddUser("bob", "hunter2"))
	assert.Error(t, s.AddUser("bob", "again"))
	assert.Error(t, s.AddUser("", "x"))

	tests := []struct {
		name    string
		creds   auth.Credentials
		wantErr bool
	}{
		{"configured user", auth.Credentials{Username: "alice", Password: "secret"}, false},
		{"added user", auth.Credentials{Username: "bob", Password: "hunter2"}, false},
		{"wrong password", auth.Credentials{Username: "alice", Password: "hunter2"}, true},
		{"unknown user", auth.Credentials{Username: "carol", Password: ""}, true},
		{"empty username", auth.Credentials{Username: "", Password: ""}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := s.Authenticate(context.Background(), tt.creds)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, p)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.creds.Username, p.ID)
		})
	}
}

func TestStore_ValidateAccess(t *testing.T) {
	s := New()
	ctx := context.Background()
	alice := &auth.Principal{ID: "alice"}

	assert.NoError(t, s.ValidateAccess(ctx, alice, "alice"))
	assert.NoError(t, s.ValidateAccess(ctx, alice, ""))

	err := s.ValidateAccess(ctx, alice, "bob")
	assert.True(t, auth.IsForbidden(err))

	err = s.ValidateAccess(ctx, nil, "alice")
	assert.Error(t, err)
	assert.False(t, auth.IsForbidden(err))
}
