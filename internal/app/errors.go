package app

import "errors"

var (
	ErrAuthenticationFailed = errors.New("pocketbase rejected the credentials")
	ErrLoginExhausted       = errors.New("pocketbase login retries exhausted")
)
