package httpapi

import (
	"net/mail"
	"strings"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type validateRequest struct {
	Reference string `json:"reference"`
	Code      string `json:"code"`
}

type resendRequest struct {
	Reference string `json:"reference"`
}

func (req *loginRequest) validate() FieldErrors {
	errs := FieldErrors{}
	req.Email = strings.TrimSpace(req.Email)
	switch {
	case req.Email == "":
		errs.add("email", "The email field is required.")
	case !validEmail(req.Email):
		errs.add("email", "The email field must be a valid email address.")
	}
	if req.Password == "" {
		errs.add("password", "The password field is required.")
	}
	return errs
}

func (req *validateRequest) validate() FieldErrors {
	errs := FieldErrors{}
	req.Reference = strings.TrimSpace(req.Reference)
	if req.Reference == "" {
		errs.add("reference", "The reference field is required.")
	}
	req.Code = strings.TrimSpace(req.Code)
	switch {
	case req.Code == "":
		errs.add("code", "The code field is required.")
	case !sixDigits(req.Code):
		errs.add("code", "The code field must be 6 digits.")
	}
	return errs
}

func (req *resendRequest) validate() FieldErrors {
	errs := FieldErrors{}
	req.Reference = strings.TrimSpace(req.Reference)
	if req.Reference == "" {
		errs.add("reference", "The reference field is required.")
	}
	return errs
}

// validEmail accepts a bare address only, no display name.
func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s && strings.Contains(s[strings.LastIndexByte(s, '@'):], ".")
}

func sixDigits(s string) bool {
	if len(s) != 6 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
