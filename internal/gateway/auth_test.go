package gateway

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/fault"
)

type failingToken struct{}

func (failingToken) Token() (string, error) { return "", errors.New("keychain locked") }

func TestBearer(t *testing.T) {
	valid := signToken(t, "op-7", testNow.Add(time.Minute))
	expired := signToken(t, "op-7", testNow)

	tok, err := bearer(StaticToken(valid), "op", testNow)
	require.NoError(t, err)
	assert.Equal(t, valid, tok)

	_, err = bearer(StaticToken(expired), "op", testNow)
	assert.True(t, fault.IsAuthorization(err), "expiry is inclusive")

	_, err = bearer(StaticToken("not-a-jwt"), "op", testNow)
	assert.True(t, fault.IsAuthorization(err))

	_, err = bearer(StaticToken(""), "op", testNow)
	assert.True(t, fault.IsAuthorization(err))

	_, err = bearer(failingToken{}, "op", testNow)
	assert.True(t, fault.IsAuthorization(err))

	tok, err = bearer(nil, "op", testNow)
	require.NoError(t, err)
	assert.Empty(t, tok)
}

func TestSubject(t *testing.T) {
	sub, err := Subject(signToken(t, "op-7", testNow))
	require.NoError(t, err)
	assert.Equal(t, "op-7", sub)

	_, err = Subject(signToken(t, "", testNow))
	assert.Error(t, err)

	_, err = Subject("garbage")
	assert.Error(t, err)
}
