package users_test

import (
	"testing"

	"github.com/jrsteele09/membership-session/users"
	"github.com/stretchr/testify/require"
)

func TestCredentialsValidate(t *testing.T) {
	require.NoError(t, users.Credentials{Email: "jane@example.com", Password: "x"}.Validate())
	require.Error(t, users.Credentials{Email: "jane", Password: "x"}.Validate())
	require.Error(t, users.Credentials{Email: "jane@example.com"}.Validate())
}

func TestRegistrationValidate(t *testing.T) {
	valid := users.Registration{Name: "Jane", Email: "jane@example.com", Password: "Passw0rdX"}
	require.NoError(t, valid.Validate())

	weak := valid
	weak.Password = "password"
	err := weak.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "uppercase")

	noName := valid
	noName.Name = ""
	require.Error(t, noName.Validate())
}

func TestValidatePasswordStrength(t *testing.T) {
	require.Error(t, users.ValidatePasswordStrength("Ab1"))
	require.Error(t, users.ValidatePasswordStrength("ABCDEFG1"))
	require.Error(t, users.ValidatePasswordStrength("abcdefg1"))
	require.Error(t, users.ValidatePasswordStrength("Abcdefgh"))
	require.NoError(t, users.ValidatePasswordStrength("Abcdefg1"))
}
