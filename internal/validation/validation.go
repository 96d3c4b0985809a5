package validation

import (
	"encoding/json"
	"net/http"

	"inveni/internal/errors"
	"inveni/shared/utils"
)

type Validator interface {
	Validate() error
}

// DecodeRequest decodes the JSON body of r into v and runs its checks.
func DecodeRequest(r *http.Request, v Validator) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.ValidationError("invalid request body", err.Error())
	}
	return v.Validate()
}

func Required(name, value string) error {
	if value == "" {
		return errors.ValidationError(name+" is required", nil)
	}
	return nil
}

// Hash checks that value is a full sha256 hex digest.
func Hash(name, value string) error {
	if err := Required(name, value); err != nil {
		return err
	}
	if !utils.IsValidHash(value) {
		return errors.ValidationError("invalid "+name, value)
	}
	return nil
}
