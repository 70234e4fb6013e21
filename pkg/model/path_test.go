package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCollectionPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"employees", "employees"},
		{"/employees/", "employees"},
		{"hr/leaveRequests", "hr/hr/leaveRequests"},
		{"companies/acme/contracts", "companies/acme/contracts"},
		{"a/b/c/d/e", "a/b/c/d/e"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ResolveCollectionPath(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveCollectionPath_Invalid(t *testing.T) {
	for _, in := range []string{"", "/", "a//b", "a/b/c/d"} {
		_, err := ResolveCollectionPath(in)
		assert.ErrorIs(t, err, ErrInvalidPath, in)
	}
}

func TestDocumentAndParentPath(t *testing.T) {
	assert.Equal(t, "employees/e1", DocumentPath("employees", "e1"))
	assert.Equal(t, "hr/hr", ParentPath("hr/hr/leaveRequests"))
	assert.Equal(t, "", ParentPath("employees"))
}
