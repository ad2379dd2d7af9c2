package project_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/go-dogma/dogma/internal/project"
)

func TestValidateName(t *testing.T) {
	assert.NoError(t, project.ValidateName("my-repo_1"))
	assert.NoError(t, project.ValidateName("abc"))
	assert.Error(t, project.ValidateName(""))
	assert.Error(t, project.ValidateName("has space"))
	assert.Error(t, project.ValidateName("has/slash"))
}

func TestReservedProjectName(t *testing.T) {
	assert.Equal(t, "dogma", project.ReservedProject)
}
