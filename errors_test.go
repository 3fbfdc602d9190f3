package migrator

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	cause := errors.New("relation already exists")

	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"unknown revision", &UnknownRevisionError{Revision: "zz"}, ErrUnknownRevision},
		{"chain integrity", &ChainIntegrityError{Reason: "cycle"}, ErrChainIntegrity},
		{"namespace not found", &NamespaceNotFoundError{Namespace: "tenant_a"}, ErrNamespaceNotFound},
		{"migration in progress", &MigrationInProgressError{Namespace: "tenant_a"}, ErrMigrationInProgress},
		{"step apply", &StepApplyError{Namespace: "tenant_a", Revision: "b", Direction: Upgrade, Cause: cause}, ErrStepApply},
		{"no reverse", &NoReverseOperationError{Revision: "b"}, ErrNoReverseOperation},
		{"wrong direction", &WrongDirectionError{Namespace: "tenant_a", Requested: Upgrade, From: "b", To: "a"}, ErrWrongDirection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.ErrorIs(t, fmt.Errorf("wrapped: %w", tt.err), tt.sentinel)
		})
	}
}

func TestStepApplyError_UnwrapsToCause(t *testing.T) {
	cause := errors.New("relation already exists")
	err := &StepApplyError{Namespace: "tenant_a", Revision: "b", Direction: Upgrade, Cause: cause}

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "namespace tenant_a: upgrade step b failed: relation already exists", err.Error())
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "unknown revision zz", (&UnknownRevisionError{Revision: "zz"}).Error())
	assert.Equal(t, "namespace tenant_a is at revision zz which is not in the chain",
		(&UnknownRevisionError{Revision: "zz", Namespace: "tenant_a"}).Error())
	assert.Equal(t, "namespace tenant_a: step b has no reverse operation",
		(&NoReverseOperationError{Namespace: "tenant_a", Revision: "b"}).Error())
	assert.Equal(t, "namespace tenant_a: refusing upgrade from b to a: target lies in the wrong direction",
		(&WrongDirectionError{Namespace: "tenant_a", Requested: Upgrade, From: "b", To: "a"}).Error())
}
