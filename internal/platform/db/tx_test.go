package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestClassifySerializationFailures(t *testing.T) {
	for _, code := range []string{"40001", "40P01"} {
		err := fmt.Errorf("load order: %w", &pgconn.PgError{Code: code})
		assert.True(t, IsSerializationFailure(err), code)
		assert.ErrorIs(t, classify(err), ErrSerialization, code)
	}

	unique := &pgconn.PgError{Code: "23505"}
	assert.False(t, IsSerializationFailure(unique))
	assert.Same(t, error(unique), classify(unique))

	plain := errors.New("boom")
	assert.Equal(t, plain, classify(plain))
}
