package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunRejectsMissingToken(t *testing.T) {
	require.Equal(t, 1, run(nil))
}

func TestRunRejectsWrongLengthToken(t *testing.T) {
	require.Equal(t, 1, run([]string{"short"}))
}

func TestTokenFixtureHasAcceptedLength(t *testing.T) {
	// run is not called here: with a token of the accepted length it goes
	// on to dial the real gateway host. This only pins a fixture of the
	// 59-character length that run's argument check accepts.
	token := "aaaaaaaaaaaaaaaaaaaaaaa.aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	require.Len(t, token, 59)
}
