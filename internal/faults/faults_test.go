package faults

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_CallNumberMatchesExactlyOnce(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(OnPageStoreRequest, Spec{Kind: FaultWithStatus, CallNumber: 3, Status: 0x01})

	for call := 1; call <= 5; call++ {
		res := r.Consult(OnPageStoreRequest)
		if call == 3 {
			assert.True(t, res.Fired, "call %d should fire", call)
			assert.Equal(t, uint8(0x01), res.Spec.Status)
		} else {
			assert.False(t, res.Fired, "call %d should not fire", call)
		}
	}
}

func TestRegistry_AlwaysFiresEveryConsultAndIsNeverConsumed(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(OnPreValidation, Spec{Kind: FaultWithStatus, CallNumber: AlwaysCallNumber, Status: 0x02})

	for call := 1; call <= 10; call++ {
		res := r.Consult(OnPreValidation)
		assert.True(t, res.Fired, "call %d should fire", call)
	}
}

func TestRegistry_PointsAreIndependent(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(OnPageCreateRequest, Spec{Kind: NoResponse, CallNumber: 1})

	res := r.Consult(OnPageStoreRequest)
	assert.False(t, res.Fired)

	res = r.Consult(OnPageCreateRequest)
	assert.True(t, res.Fired)
}

func TestRegistry_NoSpecsReturnsNoFault(t *testing.T) {
	r := NewRegistry(nil)
	res := r.Consult(OnPostValidation)
	assert.False(t, res.Fired)
}

func TestRegistry_CallbackInvoked(t *testing.T) {
	r := NewRegistry(nil)
	called := false
	r.Register(OnPostValidation, Spec{
		Kind:       NoResponse,
		CallNumber: 1,
		Callback:   func() { called = true },
	})

	r.Consult(OnPostValidation)
	assert.True(t, called)
}
