package graphbolterr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		code string
		want Kind
	}{
		{"Neo.ClientError.Statement.SyntaxError", ClientError},
		{"Neo.ClientError.Security.Unauthorized", AuthenticationError},
		{"Neo.TransientError.Transaction.DeadlockDetected", TransientError},
		{"Neo.DatabaseError.General.UnknownError", DatabaseError},
		{"malformed", DatabaseError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.code))
		})
	}
}

func TestNewServerErrorRewritesNotALeader(t *testing.T) {
	err := NewServerError("Neo.ClientError.Cluster.NotALeader", "not a leader")
	assert.Equal(t, SessionExpired, err.Kind)
	assert.True(t, err.ForgetWriterOnly)
}

func TestNewServerErrorOtherClientErrorsAreNotRewritten(t *testing.T) {
	err := NewServerError("Neo.ClientError.Statement.SyntaxError", "bad query")
	assert.Equal(t, ClientError, err.Kind)
	assert.False(t, err.ForgetWriterOnly)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewServiceUnavailable("down")))
	assert.True(t, IsRetryable(NewSessionExpired("expired")))
	assert.True(t, IsRetryable(NewServerError("Neo.TransientError.Transaction.DeadlockDetected", "deadlock")))
	assert.False(t, IsRetryable(NewServerError("Neo.TransientError.Memory.TransactionOutOfMemoryError", "oom")))
	assert.False(t, IsRetryable(NewClientError("bad query")))
	assert.False(t, IsRetryable(nil))
}

func TestWrapPreservesKind(t *testing.T) {
	original := NewServiceUnavailable("dial tcp: connection refused")
	wrapped := Wrap(original, "acquiring connection")
	assert.Equal(t, ServiceUnavailable, wrapped.Kind)
	assert.Contains(t, wrapped.Error(), "connection refused")
}

func TestWrapGenericError(t *testing.T) {
	base := assertNotNilErr()
	wrapped := Wrap(base, "dialing")
	assert.Equal(t, ClientError, wrapped.Kind)
}

type plainErr struct{}

func (plainErr) Error() string { return "boom" }

func assertNotNilErr() error { return plainErr{} }
