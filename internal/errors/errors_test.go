package errors_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	iferrs "github.com/calmctl/imagefeed/internal/errors"
)

func TestEConstructor(t *testing.T) {
	got := iferrs.E(
		"something went wrong",
		iferrs.Detail{Field: "name", Error: "was bad"},
		http.StatusBadRequest,
	)
	want := &iferrs.Error{
		Err: errors.New("something went wrong"),
		Details: []iferrs.Detail{
			{Field: "name", Error: "was bad"},
		},
		Status: http.StatusBadRequest,
	}

	assert.Equal(t, want, got)
}

func TestEDefaultsToInternal(t *testing.T) {
	got := iferrs.E(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, got.Status)
}

func TestUnwrap(t *testing.T) {
	sentinel := errors.New("underlying")
	wrapped := iferrs.E(sentinel, http.StatusNotFound)
	require.ErrorIs(t, wrapped, sentinel)
}
