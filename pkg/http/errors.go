package http

import (
	"errors"

	gserr "github.com/gateshift/gateshift/pkg/errors"
)

var ErrorUnauthorized = &gserr.Error{
	Type: gserr.User,
	Help: `The request failed authentication

This most likely means you have a missing or incorrect token. Please
make sure you supply a service token, either by setting the
environment variable GATESHIFT_SERVICE_TOKEN, or using the argument
--token with gateshiftctl.

`,
	Err: errors.New("request failed authentication"),
}

func MakeAPINotFound(path string) *gserr.Error {
	return &gserr.Error{
		Type: gserr.Missing,
		Help: `The API endpoint requested is not supported by this server.

This indicates that your client (probably gateshiftctl) is either out
of date, or faulty. Please see

    https://github.com/gateshift/gateshift/releases

for releases of gateshiftctl.

If you still have problems, please file an issue at

    https://github.com/gateshift/gateshift/issues

mentioning what you were attempting to do, and include this path:

    ` + path + `
`,
		Err: errors.New("API endpoint not found"),
	}
}
