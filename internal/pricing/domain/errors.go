package domain

import "errors"

var (
	ErrInvalidRule         = errors.New("invalid_rule")
	ErrInvalidOrganization = errors.New("invalid_organization")
)
