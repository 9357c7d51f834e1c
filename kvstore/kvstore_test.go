package kvstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"logkv/kverrors"
)

func TestValidateKeyRejectsDelimiterAndTombstone(t *testing.T) {
	require.NoError(t, ValidateKey("ok"))

	for _, key := range []string{"", "a,b", "a\nb", Tombstone} {
		err := ValidateKey(key)
		require.Error(t, err, key)
		require.True(t, errors.Is(err, kverrors.ErrInvalidInput))
	}
}

func TestValidateValueRejectsTombstoneAndNewline(t *testing.T) {
	require.NoError(t, ValidateValue("ok"))

	for _, value := range []string{Tombstone, "a\nb"} {
		err := ValidateValue(value)
		require.Error(t, err, value)
		require.True(t, kverrors.Of(err, kverrors.KindInvalidInput))
	}
}

func TestStatusKindPredicates(t *testing.T) {
	require.True(t, PresentStatus("v").IsPresent())
	require.True(t, DeletedStatus.IsDeleted())
	require.True(t, AbsentStatus.IsAbsent())
}
