package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "slow" }
func (timeoutErr) ErrorCode() Code { return CodeTimeout }

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), CodeInternal},
		{"coded", NotFound("missing"), CodeNotFound},
		{"wrapped coded", fmt.Errorf("activate: %w", InvalidInput("bad")), CodeInvalidInput},
		{"custom coder", fmt.Errorf("call: %w", timeoutErr{}), CodeTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestWith_DoesNotMutateOriginal(t *testing.T) {
	base := New(CodeIAMDenied, "denied")
	withURN := base.With("urn", "urn:alpha")

	assert.Nil(t, base.Context)
	assert.Equal(t, "urn:alpha", withURN.Context["urn"])
	assert.Equal(t, "urn:alpha", ContextOf(fmt.Errorf("x: %w", withURN))["urn"])
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(CodeInvalidInput))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(CodeNotFound))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(CodeIAMDenied))
	assert.Equal(t, http.StatusGatewayTimeout, HTTPStatus(CodeTimeout))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(CodeInternal))
}

func TestError_Message(t *testing.T) {
	err := Wrap(CodeConnectivity, "qdrant unreachable", errors.New("dial tcp"))
	assert.Equal(t, "CONNECTIVITY: qdrant unreachable: dial tcp", err.Error())
	assert.True(t, Is(err, CodeConnectivity))
}
