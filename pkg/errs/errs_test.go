package errs

import (
	"fmt"
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/pkg/errors"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		validation  bool
		network     bool
		persistence bool
		local       bool
	}{
		{"validation", Invalid("name", "must not be empty"), true, false, false, false},
		{"wrapped validation", fmt.Errorf("failed to rename: %w", Invalid("name", "empty")), true, false, false, false},
		{"network", Network("join", errors.New("dial tcp: refused")), false, true, false, false},
		{"remote persistence", Persistence("save", errors.New("500")), false, false, true, false},
		{"local persistence", LocalPersistence("open", errors.New("disk full")), false, false, true, true},
		{"plain", ErrNotFound, false, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, IsValidation(tt.err), tt.validation)
			assert.Equal(t, IsNetwork(tt.err), tt.network)
			assert.Equal(t, IsPersistence(tt.err), tt.persistence)
			assert.Equal(t, IsLocalPersistence(tt.err), tt.local)
		})
	}
}

func TestSentinelsSurviveWrapping(t *testing.T) {
	err := Network("heartbeat", fmt.Errorf("failed to send: %w", ErrNotFound))
	assert.Equal(t, errors.Is(err, ErrNotFound), true)
	assert.Equal(t, Network("noop", nil), nil)
	assert.Equal(t, Persistence("noop", nil), nil)
}
